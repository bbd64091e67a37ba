// Copyright (c) AgentNode Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentnode 运行时的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 node、coordinator、config
等上层模块提供统一的类型契约。所有跨包共享的结构体、枚举和错误码均
定义于此，以避免循环依赖。

# 核心类型

  - ExecutionContext   — 一次调用的身份与调用树位置（根/子派生规则）
  - ConnectionState    — 节点与协调器连接状态机的五个状态
  - ExecutionStatus    — 异步执行生命周期状态（queued → terminal）
  - ExecutionRecord    — 出站异步执行的本地记录（输入在终态清空）
  - WorkflowEvent      — 工作流生命周期事件载荷（fire-and-forget 上报）
  - Error / ErrorCode  — 结构化错误体系，含 Retryable 与 Cause 标记

# 主要能力

  - Context 传播：WithExecutionContext / ExecutionContextFrom
  - 跨进程关联：ContextFromHeaders / ApplyHeaders（X-Execution-ID 等头部）
  - 层级派生：NewRootContext / Child（子执行继承 workflow_id，新建 execution_id）
  - 错误工具链：IsRetryable / GetErrorCode / 常用错误构造器
*/
package types
