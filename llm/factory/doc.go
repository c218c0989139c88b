// Package factory 提供 LLM Provider 的集中式工厂，
// 通过名称映射创建 Provider 实例，打破 llm 包与各 provider 子包之间的
// 循环依赖。弹性装饰（重试、降级、熔断、幂等缓存）也在这里按配置套上。
package factory
