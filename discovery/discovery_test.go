package discovery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/discovery"
	"github.com/effective-security/toolchat/host"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/toolchat/tools/demo"
	"github.com/effective-security/xlog"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stdioHostEnv = "TOOLCHAT_TEST_STDIO_HOST"

// TestMain doubles as a stdio tool host when started by the stdio test.
func TestMain(m *testing.M) {
	if os.Getenv(stdioHostEnv) == "1" {
		xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
		h := host.New("stdio-host", "v0.0.1")
		if err := h.Register(demo.Tools()...); err != nil {
			os.Exit(2)
		}
		if err := h.ServeStdio(context.Background()); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type echoRequest struct {
	Text string `json:"text" validate:"required"`
}

func newEcho(name string) tools.ITool {
	return tools.MustFunc(name, "Echo the text", func(_ context.Context, req *echoRequest) (string, error) {
		return req.Text, nil
	})
}

func serve(t *testing.T, h *host.Host) string {
	srv := httptest.NewServer(h.HTTPHandler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func demoHost(t *testing.T, name string) string {
	h := host.New(name, "v0.0.1")
	require.NoError(t, h.Register(demo.Tools()...))
	return serve(t, h)
}

func unreachableURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestDiscover_SkipsUnreachable(t *testing.T) {
	ctx := context.Background()

	reg, err := discovery.Discover(ctx, []discovery.Endpoint{
		{Name: "down", Transport: discovery.TransportStreamableHTTP, URL: unreachableURL()},
		{Name: "math", Transport: discovery.TransportStreamableHTTP, URL: demoHost(t, "math")},
	}, discovery.WithConnectTimeout(5*time.Second))
	require.NoError(t, err)
	defer reg.Close()

	// MCP lists tools sorted by name
	assert.Equal(t, []string{"add", "roll_dice"}, reg.Names())
	assert.Equal(t, 2, reg.Len())

	failures := reg.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "down", failures[0].Endpoint)
	assert.Equal(t, discovery.StageConnect, failures[0].Stage)
	assert.ErrorIs(t, &failures[0], discovery.ErrConnection)

	add, ok := reg.Get("add")
	require.True(t, ok)
	assert.Equal(t, "math", add.(*discovery.Proxy).Endpoint())
	assert.NotEmpty(t, add.Description())
	params := add.Parameters().(map[string]any)
	assert.Equal(t, "object", params["type"])

	res, err := add.Call(ctx, `{"a":2,"b":3}`)
	require.NoError(t, err)
	assert.Equal(t, "5", res)

	dice, ok := reg.Get("roll_dice")
	require.True(t, ok)
	_, err = dice.Call(ctx, `{"n_dice":0}`)
	assert.ErrorIs(t, err, tools.ErrInvalidArguments)
	_, err = add.Call(ctx, `{"a":2}`)
	assert.ErrorIs(t, err, tools.ErrInvalidArguments)

	_, err = add.Call(ctx, `[1,2]`)
	assert.ErrorIs(t, err, tools.ErrInvalidArguments)

	require.NoError(t, reg.Close())
	_, err = add.Call(ctx, `{"a":2,"b":3}`)
	assert.ErrorIs(t, err, tools.ErrExecution)
}

func TestDiscover_InvalidEndpoints(t *testing.T) {
	reg, err := discovery.Discover(context.Background(), []discovery.Endpoint{
		{Name: "nocmd", Transport: discovery.TransportStdio},
		{Name: "nourl", Transport: discovery.TransportStreamableHTTP},
		{Name: "bad", Transport: "grpc", URL: "http://localhost"},
		{Transport: discovery.TransportSSE, URL: "http://localhost"},
	})
	require.NoError(t, err)
	defer reg.Close()

	assert.Empty(t, reg.Tools())
	failures := reg.Failures()
	require.Len(t, failures, 4)
	for _, f := range failures {
		assert.Equal(t, discovery.StageValidate, f.Stage)
		assert.NotErrorIs(t, &f, discovery.ErrConnection)
	}
	assert.Contains(t, failures[0].Error(), "command is required")
	assert.Contains(t, failures[1].Error(), "url is required")
}

func TestDiscover_Duplicates(t *testing.T) {
	ctx := context.Background()

	other := host.New("other", "v0.0.1")
	require.NoError(t, other.Register(newEcho("add"), newEcho("echo")))
	endpoints := []discovery.Endpoint{
		{Name: "math", Transport: discovery.TransportStreamableHTTP, URL: demoHost(t, "math")},
		{Name: "other", Transport: discovery.TransportStreamableHTTP, URL: serve(t, other)},
	}

	reg, err := discovery.Discover(ctx, endpoints)
	require.NoError(t, err)
	defer reg.Close()
	assert.Equal(t, []string{"add", "roll_dice", "echo"}, reg.Names())
	add, _ := reg.Get("add")
	assert.Equal(t, "math", add.(*discovery.Proxy).Endpoint())

	_, err = discovery.Discover(ctx, endpoints, discovery.WithPolicy(discovery.RejectDuplicates))
	assert.ErrorIs(t, err, discovery.ErrDuplicateTool)
	assert.Contains(t, err.Error(), `"add" from other`)
}

func TestRegistry_Add(t *testing.T) {
	reg := discovery.NewRegistry(discovery.FirstWins)
	require.NoError(t, reg.Add(demo.Tools()...))
	require.NoError(t, reg.Add(newEcho("add"), newEcho("echo")))
	assert.Equal(t, []string{"roll_dice", "add", "echo"}, reg.Names())
	add, _ := reg.Get("add")
	assert.Equal(t, demo.AddToolName, add.Name())
	_, isFunc := add.(*tools.Func[demo.AddRequest, int])
	assert.True(t, isFunc)

	strict := discovery.NewRegistry(discovery.RejectDuplicates)
	require.NoError(t, strict.Add(demo.Tools()...))
	err := strict.Add(newEcho("echo"), newEcho("add"))
	assert.ErrorIs(t, err, discovery.ErrDuplicateTool)
	// nothing is added from a rejected batch
	assert.Equal(t, []string{"roll_dice", "add"}, strict.Names())

	err = strict.Add(newEcho("x"), newEcho("x"))
	assert.ErrorIs(t, err, discovery.ErrDuplicateTool)
	assert.NoError(t, strict.Close())
}

func TestParsePolicy(t *testing.T) {
	p, err := discovery.ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, discovery.FirstWins, p)
	assert.Equal(t, "first_wins", p.String())

	p, err = discovery.ParsePolicy("REJECT")
	require.NoError(t, err)
	assert.Equal(t, discovery.RejectDuplicates, p)
	assert.Equal(t, "reject", p.String())

	_, err = discovery.ParsePolicy("last_wins")
	assert.EqualError(t, err, "unsupported duplicate policy: last_wins")
}

func TestDiscover_Headers(t *testing.T) {
	h := host.New("secured", "v0.0.1")
	require.NoError(t, h.Register(demo.NewAdd()))
	var authorized atomic.Int32
	handler := h.HTTPHandler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		authorized.Add(1)
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	reg, err := discovery.Discover(context.Background(), []discovery.Endpoint{
		{Name: "anonymous", Transport: discovery.TransportStreamableHTTP, URL: srv.URL},
		{
			Name:      "secured",
			Transport: discovery.TransportStreamableHTTP,
			URL:       srv.URL,
			Headers:   map[string]string{"Authorization": "Bearer secret"},
		},
	})
	require.NoError(t, err)
	defer reg.Close()

	assert.Equal(t, []string{"add"}, reg.Names())
	require.Len(t, reg.Failures(), 1)
	assert.Equal(t, "anonymous", reg.Failures()[0].Endpoint)
	assert.Positive(t, authorized.Load())
}

func TestDiscover_Stdio(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a child process")
	}
	ctx := context.Background()

	reg, err := discovery.Discover(ctx, []discovery.Endpoint{
		{
			Name:      "local",
			Transport: discovery.TransportStdio,
			Command:   os.Args[0],
			Env:       map[string]string{stdioHostEnv: "1"},
		},
		{Name: "missing", Transport: discovery.TransportStdio, Command: "/nonexistent/toolhost"},
	})
	require.NoError(t, err)
	defer reg.Close()

	assert.Equal(t, []string{"add", "roll_dice"}, reg.Names())
	require.Len(t, reg.Failures(), 1)
	assert.Equal(t, "missing", reg.Failures()[0].Endpoint)

	add, _ := reg.Get("add")
	res, err := add.Call(ctx, `{"a":20,"b":22}`)
	require.NoError(t, err)
	assert.Equal(t, "42", res)
}

func TestProxy_ErrorClass(t *testing.T) {
	ctx := context.Background()

	h := host.New("echo", "v0.0.1")
	require.NoError(t, h.Register(newEcho("echo"), tools.MustFunc("fail", "Always fails",
		func(context.Context, *echoRequest) (string, error) {
			return "", errors.New("backend down")
		})))

	reg, err := discovery.Discover(ctx, []discovery.Endpoint{
		{Name: "echo", Transport: discovery.TransportStreamableHTTP, URL: serve(t, h)},
	})
	require.NoError(t, err)
	defer reg.Close()

	echo, ok := reg.Get("echo")
	require.True(t, ok)

	// rejected by the schema before the call is sent
	_, err = echo.Call(ctx, `{}`)
	require.ErrorIs(t, err, tools.ErrInvalidArguments)
	assert.NotContains(t, err.Error(), " on echo")

	// rejected by the host validation, the class is kept
	_, err = echo.Call(ctx, `{"text":""}`)
	require.ErrorIs(t, err, tools.ErrInvalidArguments)
	assert.False(t, errors.Is(err, tools.ErrExecution))
	assert.Contains(t, err.Error(), "echo on echo")

	fail, ok := reg.Get("fail")
	require.True(t, ok)
	_, err = fail.Call(ctx, `{"text":"x"}`)
	require.ErrorIs(t, err, tools.ErrExecution)
	assert.Contains(t, err.Error(), "backend down")
}

func TestProxy_ReExport(t *testing.T) {
	ctx := context.Background()

	reg, err := discovery.Discover(ctx, []discovery.Endpoint{
		{Name: "math", Transport: discovery.TransportStreamableHTTP, URL: demoHost(t, "math")},
	})
	require.NoError(t, err)
	defer reg.Close()

	proxy := host.New("proxy", "v0.0.1")
	require.NoError(t, proxy.Register(reg.Tools()...))

	res, err := proxy.Invoke(ctx, "add", `{"a":2,"b":3}`)
	require.NoError(t, err)
	assert.Equal(t, "5", res)

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: serve(t, proxy), MaxRetries: -1}, nil)
	require.NoError(t, err)
	defer cs.Close()

	out, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "add", Arguments: map[string]any{"a": 1, "b": 1}})
	require.NoError(t, err)
	assert.False(t, out.IsError)
	text, err := discovery.ResultText(out)
	require.NoError(t, err)
	assert.Equal(t, "2", text)
}
