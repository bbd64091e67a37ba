// 版权所有 2024 AgentNode Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供有界的执行结果缓存，按 execution_id 存取终态执行的结果。

# 概述

异步执行到达终态后，其结果写入本缓存供 get_execution_result 类查询复用。
缓存永远有界：无论提交多少执行，条目数或存活时间都受配置约束，
不会随流量无限增长。

# 核心类型

  - ResultCache：统一缓存接口（Get/Set/Delete/Len/Close）。
  - MemoryCache：进程内实现，按插入顺序最旧先淘汰，支持可选 TTL。
  - RedisCache：go-redis 实现，JSON 序列化存储，依赖 Redis TTL 过期，
    多节点共享协调器时可跨进程复用结果。
  - Config：后端选择（memory/redis）、容量上限、TTL 与 Redis 连接参数。

# 主要能力

  - 有界存储：MemoryCache 在插入时淘汰最旧/过期条目，Len 永不超上限。
  - 错误语义：ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
  - 优雅关闭：Close 幂等，关闭后操作返回 ErrCacheClosed。
*/
package cache
