package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const stackDump = `goroutine 1 [running]:
runtime/debug.Stack()
	/usr/local/go/src/runtime/debug/stack.go:24 +0x65
github.com/twitter/nodeplan/common/log/hooks.contextHook.Fire({...}, 0xc000110000)
	/src/nodeplan/common/log/hooks/context_hook.go:27 +0x25
github.com/sirupsen/logrus.LevelHooks.Fire(...)
	/go/pkg/mod/github.com/sirupsen/logrus@v1.9.3/hooks.go:28 +0x87
github.com/sirupsen/logrus.(*Entry).Infof(...)
	/go/pkg/mod/github.com/sirupsen/logrus@v1.9.3/entry.go:347 +0x45
github.com/twitter/nodeplan/planner.(*Planner).Plan(...)
	/src/nodeplan/planner/planner.go:88 +0x1d2
`

func TestCallSite(t *testing.T) {
	loc := NewContextHook().callSite([]byte(stackDump))
	assert.Equal(t, "planner/planner.go:88", loc)
}

func TestCallSiteWithoutLogrus(t *testing.T) {
	assert.Equal(t, "", NewContextHook().callSite([]byte("goroutine 1 [running]:\nmain.main()\n\t/x/main.go:3 +0x1\n")))
}
