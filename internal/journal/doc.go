// 版权所有 2024 AgentNode Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 journal 提供节点侧的执行流水账持久化，基于 GORM 支持
SQLite、PostgreSQL 与 MySQL 三种方言。

# 概述

节点在本地记录每一次异步执行的提交、状态变化与终态结果，
以及派发过的工作流生命周期事件。进程重启后可以从流水账中
恢复未终态的执行并继续轮询，事件历史则用于审计与排障。

# 核心类型

  - Journal：流水账仓库，封装 GORM 连接与连接池管理，
    提供执行记录与事件的增改查及保留期清理。
  - ExecutionRow / WorkflowEventRow：GORM 模型，分别对应
    an_executions 与 an_workflow_events 两张表。
  - PoolManager：数据库连接池管理器，管理空闲/打开连接数、
    连接生命周期、健康检查与事务重试。

# 主要能力

  - 方言切换：Open 按配置选择纯 Go SQLite（默认）、PostgreSQL
    或 MySQL 驱动，连接后应用连接池参数。
  - 执行流水：RecordSubmission/MarkRunning/RecordTerminal 跟随
    执行生命周期落盘，终态写入时清空输入负载。
  - 事件流水：AppendEvent 追加生命周期事件，Events 按工作流查询。
  - 启动恢复：OpenExecutions 返回未终态执行，供节点重启后续跟。
  - 保留清理：PurgeBefore 删除保留期之外的终态记录与事件。
*/
package journal
