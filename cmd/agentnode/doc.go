// Copyright (c) AgentNode Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentNode 节点程序入口。

# 概述

cmd/agentnode 是节点运行时的可执行入口，提供节点服务、流水账数据库
迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、结构化
日志（zap）、Prometheus 指标采集、OpenTelemetry 链路追踪以及配置热重载。

# 核心类型

  - App             — 服务编排器，组装 Node、指标采集、遥测与配置热重载
  - Middleware      — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter  — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动节点）、migrate（流水账迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    RateLimiter（基于 IP）、JWTAuth（Bearer HS256）、OTelTracing
  - 配置热重载：HotReloadManager 监听文件变更，管理 API 经
    X-API-Key（server.admin_api_key）认证后挂载到节点路由
  - 优雅关闭：信号监听 → 停止热更新 → 关闭节点 → 关闭遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
