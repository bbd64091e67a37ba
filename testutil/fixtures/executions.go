// =============================================================================
// 📦 测试数据工厂 - 执行生命周期测试数据
// =============================================================================
// 提供预定义的状态更新，用于驱动 Mock 协调器推进执行
// =============================================================================
package fixtures

import (
	"github.com/BaSui01/agentnode/coordinator"
	"github.com/BaSui01/agentnode/types"
)

// =============================================================================
// 🎯 StatusUpdate 工厂
// =============================================================================

// RunningUpdate 返回 running 状态更新
func RunningUpdate(executionID string) *coordinator.StatusUpdate {
	return &coordinator.StatusUpdate{
		ExecutionID: executionID,
		Status:      types.StatusRunning,
	}
}

// SucceededUpdate 返回携带结果的 succeeded 状态更新
func SucceededUpdate(executionID string, result any) *coordinator.StatusUpdate {
	return &coordinator.StatusUpdate{
		ExecutionID: executionID,
		Status:      types.StatusSucceeded,
		Result:      result,
	}
}

// FailedUpdate 返回携带错误信息的 failed 状态更新
func FailedUpdate(executionID, message string) *coordinator.StatusUpdate {
	return &coordinator.StatusUpdate{
		ExecutionID: executionID,
		Status:      types.StatusFailed,
		Error:       message,
	}
}

// CancelledUpdate 返回 cancelled 状态更新
func CancelledUpdate(executionID, reason string) *coordinator.StatusUpdate {
	return &coordinator.StatusUpdate{
		ExecutionID: executionID,
		Status:      types.StatusCancelled,
		Error:       reason,
	}
}

// TimeoutUpdate 返回 timeout 状态更新
func TimeoutUpdate(executionID string) *coordinator.StatusUpdate {
	return &coordinator.StatusUpdate{
		ExecutionID: executionID,
		Status:      types.StatusTimeout,
		Error:       "execution deadline exceeded",
	}
}
