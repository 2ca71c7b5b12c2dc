package runtime

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// trapSignal is the panic value raised by Context.Trap.
type trapSignal struct {
	msg string
}

// abortSignal unwinds a suspended task whose actor is going away.
type abortSignal struct{}

func explicitTrap(msg string) string {
	return "canister trapped explicitly: " + msg
}

// guard runs the handler and converts any abnormal termination into a
// trapped StepResult. The recover is scoped to the task goroutine, so
// concurrent lanes never share a fault boundary.
func (t *task) guard() (res StepResult) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch sig := r.(type) {
		case abortSignal:
			res = StepResult{Status: StepAborted}
		case trapSignal:
			res = StepResult{Status: StepTrapped, Message: explicitTrap(sig.msg)}
		default:
			res = StepResult{Status: StepTrapped, Message: fmt.Sprintf("canister trapped: %v", r)}
			t.sys.actor.log.Debug("recovered panic in canister logic",
				zap.String("canister", t.sys.actor.idText),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	t.handler(t.sys)

	// A trap swallowed by the logic's own recover still traps.
	if t.trapped {
		return StepResult{Status: StepTrapped, Message: explicitTrap(t.trapMsg)}
	}
	if t.aborted {
		return StepResult{Status: StepAborted}
	}
	return StepResult{Status: StepDone}
}
