// Copyright (c) AgentNode Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 AgentNode 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。测试应优先使用此包
中的工具函数和 Mock 实现。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 执行断言: AssertStatus / AssertTerminal / AssertEventSequence，
    校验执行记录与工作流事件的生命周期顺序
  - 数据工具: MustJSON / MustParseJSON / WaitForChannel，
    简化测试数据构造与通道驱动的测试

# 子包

  - testutil/mocks: Mock 实现，包括 MockCoordinator（协调器客户端），
    支持 Builder 模式、错误注入、手动推进执行状态与调用记录
  - testutil/fixtures: 测试数据工厂，提供预置状态更新、
    工作流事件序列与执行上下文样例

# 使用示例

	ctx := testutil.TestContext(t)
	coord := mocks.NewMockCoordinator()
	id, err := mgr.Submit(ctx, "worker.echo", input)
	coord.Apply(fixtures.SucceededUpdate(id, "done"))
	testutil.AssertEventuallyTrue(t, func() bool {
		rec, ok := mgr.Status(id)
		return ok && rec.Status.IsTerminal()
	}, 2*time.Second)
*/
package testutil
