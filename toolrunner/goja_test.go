package toolrunner_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/contenox/agentplan/toolrunner"
	"github.com/stretchr/testify/require"
)

func TestUnit_GojaInvokeFunctionStyle(t *testing.T) {
	inv := toolrunner.NewGojaInvoker(nil)
	require.NoError(t, inv.RegisterTool("echo", `
		function echo(args, token) {
			return { text: args.text, token: token };
		}
	`))

	spec := json.RawMessage(`{"category":"read_data","tool":"echo","args":{"text":"hello"}}`)
	result, err := inv.Invoke(context.Background(), spec, "tok-1")
	require.NoError(t, err)

	var out struct {
		Text  string `json:"text"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(result), &out))
	require.Equal(t, "hello", out.Text)
	require.Equal(t, "tok-1", out.Token)
}

func TestUnit_GojaInvokeResultStyle(t *testing.T) {
	inv := toolrunner.NewGojaInvoker(nil)
	require.NoError(t, inv.RegisterTool("answer", `result = { value: 42 };`))

	spec := json.RawMessage(`{"tool":"answer","args":{}}`)
	result, err := inv.Invoke(context.Background(), spec, "tok-2")
	require.NoError(t, err)
	require.JSONEq(t, `{"value":42}`, result)
}

func TestUnit_GojaInvokeFailures(t *testing.T) {
	inv := toolrunner.NewGojaInvoker(nil)

	t.Run("invalid action spec", func(t *testing.T) {
		_, err := inv.Invoke(context.Background(), json.RawMessage(`not json`), "tok")
		require.Equal(t, toolrunner.KindInvalidInput, toolrunner.KindOf(err))
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := inv.Invoke(context.Background(), json.RawMessage(`{"tool":"missing"}`), "tok")
		require.Equal(t, toolrunner.KindInvalidInput, toolrunner.KindOf(err))
	})

	t.Run("script throw is permanent", func(t *testing.T) {
		require.NoError(t, inv.RegisterTool("boom", `throw new Error("broken");`))
		_, err := inv.Invoke(context.Background(), json.RawMessage(`{"tool":"boom"}`), "tok")
		require.Error(t, err)
		require.Equal(t, toolrunner.KindPermanent, toolrunner.KindOf(err))
	})

	t.Run("timeout is transient", func(t *testing.T) {
		require.NoError(t, inv.RegisterTool("spin", `while (true) {}`))
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := inv.Invoke(ctx, json.RawMessage(`{"tool":"spin"}`), "tok")
		require.Error(t, err)
		require.Equal(t, toolrunner.KindTransient, toolrunner.KindOf(err))
	})

	t.Run("compile error surfaces at registration", func(t *testing.T) {
		err := inv.RegisterTool("bad", `function (`)
		require.Error(t, err)
	})
}

func TestUnit_ToolErrorTaxonomy(t *testing.T) {
	transient := toolrunner.Transient("flaky upstream", errors.New("dial tcp"))
	require.Equal(t, toolrunner.KindTransient, toolrunner.KindOf(transient))

	wrapped := errors.Join(errors.New("outer"), toolrunner.Permanent("bad state", nil))
	require.Equal(t, toolrunner.KindPermanent, toolrunner.KindOf(wrapped))

	require.Equal(t, toolrunner.KindTransient, toolrunner.KindOf(context.DeadlineExceeded))
	require.Equal(t, toolrunner.KindPermanent, toolrunner.KindOf(errors.New("anything else")))
}
