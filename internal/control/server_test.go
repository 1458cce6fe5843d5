package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/dinitgo/internal/graph"
	"github.com/loykin/dinitgo/internal/reactor"
	"github.com/loykin/dinitgo/pkg/dinitclient"
)

func startTestServer(t *testing.T) (*Server, *graph.Set, string) {
	t.Helper()
	set := graph.NewSet()
	driver := graph.NewInternalDriver(set)
	_, err := set.New(graph.Settings{Name: "svc", Kind: graph.KindInternal}, driver)
	require.NoError(t, err)

	rc := reactor.New(set, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go rc.Run(ctx)
	t.Cleanup(cancel)

	sockPath := filepath.Join(t.TempDir(), "control.sock")
	srv, err := Listen(sockPath, rc, nil)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Close() })

	return srv, set, sockPath
}

func dialTestClient(t *testing.T, sockPath string) *dinitclient.Client {
	t.Helper()
	cl := dinitclient.New(dinitclient.Config{SocketPath: sockPath, Timeout: 2 * time.Second})
	require.NoError(t, cl.Connect())
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func TestQueryVersionMatchesProtocolVersion(t *testing.T) {
	_, _, sockPath := startTestServer(t)
	cl := dialTestClient(t, sockPath)

	v, err := cl.QueryVersion()
	require.NoError(t, err)
	require.Equal(t, ProtocolVersion, v)
}

func TestFindServiceThenStartBringsItUp(t *testing.T) {
	_, set, sockPath := startTestServer(t)
	cl := dialTestClient(t, sockPath)

	st, err := cl.FindService("svc")
	require.NoError(t, err)
	require.NotZero(t, st.Handle)

	require.NoError(t, cl.StartService(st.Handle, false))

	require.Eventually(t, func() bool {
		rec, ok := set.Find("svc")
		return ok && rec.Current == graph.Started
	}, time.Second, 5*time.Millisecond)
}

func TestFindServiceUnknownNameReturnsError(t *testing.T) {
	_, _, sockPath := startTestServer(t)
	cl := dialTestClient(t, sockPath)

	_, err := cl.FindService("does-not-exist")
	require.Error(t, err)
}

func TestStopServiceOnUnknownHandleReturnsError(t *testing.T) {
	_, _, sockPath := startTestServer(t)
	cl := dialTestClient(t, sockPath)

	err := cl.StopService(dinitclient.ServiceHandle(9999), false)
	require.Error(t, err)
}
