// 版权所有 2024 AgentNode Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP、连接、执行、事件、缓存与数据库六大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 连接指标：协调器连接状态 Gauge、状态转换计数、注册尝试与
    心跳结果计数，按 from_state/to_state、result 分组。
  - 执行指标：本地单元执行总数与耗时（按 unit/status 分组）、
    异步提交与终态计数、活跃执行 Gauge、轮询周期计数。
  - 事件指标：工作流事件投递结果计数（sent/failed/dropped）、
    派发队列深度 Gauge。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram，
    按 database/operation 分组。
*/
package metrics
