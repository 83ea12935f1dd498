package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	log *zap.SugaredLogger
)

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	log = l.Sugar()
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
}

func TestParseVariant(t *testing.T) {
	cases := []struct {
		in     string
		exp    Variant
		expErr bool
	}{
		{in: "1", exp: VariantGPU},
		{in: " 2\n", exp: VariantCPU},
		{in: "GPU", exp: VariantGPU},
		{in: "opencl", exp: VariantGPU},
		{in: "cpu", exp: VariantCPU},
		{in: "eigen", exp: VariantCPU},
		{in: "3", expErr: true},
		{in: "", expErr: true},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			v, err := ParseVariant(c.in)
			if c.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.exp, v)
		})
	}
}

func TestChooseVariant(t *testing.T) {
	cases := []struct {
		name        string
		input       string
		maxAttempts int
		exp         Variant
		expErr      error
		expInvalids int
	}{
		{name: "first answer valid", input: "1\n", maxAttempts: 3, exp: VariantGPU},
		{name: "re-prompts on invalid input", input: "x\n9\n2\n", maxAttempts: 3, exp: VariantCPU, expInvalids: 2},
		{name: "gives up after max attempts", input: "x\ny\nz\n1\n", maxAttempts: 3, expErr: ErrNoChoice, expInvalids: 3},
		{name: "eof", input: "", maxAttempts: 3, expErr: io.ErrUnexpectedEOF},
		{name: "eof after invalid", input: "nope\n", maxAttempts: 3, expErr: io.ErrUnexpectedEOF, expInvalids: 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			v, err := ChooseVariant(strings.NewReader(c.input), out, c.maxAttempts)
			assert.Equal(t, c.expInvalids, strings.Count(out.String(), "Invalid choice"))
			if c.expErr != nil {
				assert.ErrorIs(t, err, c.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.exp, v)
		})
	}
}

func TestLayout(t *testing.T) {
	p, err := LookupPlatform("linux")
	require.NoError(t, err)
	r := DefaultRelease()

	l := r.Layout(p)
	assert.Equal(t, filepath.Join("KataGo", "katago"), l.BinaryPath)
	assert.Equal(t, filepath.Join("KataGo", "analysis_example.cfg"), l.ConfigPath)
	assert.Equal(t, "kata1-b18c384nbt-s8341979392-d3881113763.bin.gz", l.ModelPath)

	u, err := r.ArchiveURL(p, VariantCPU)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/lightvector/KataGo/releases/download/v1.13.0/katago-v1.13.0-eigenavx2-linux-x64.zip", u)
	assert.Equal(t, "https://media.katagotraining.org/uploaded/networks/models/kata1/kata1-b18c384nbt-s8341979392-d3881113763.bin.gz", r.ModelURL())

	assert.Equal(t, []string{"analysis", "-model", l.ModelPath, "-config", l.ConfigPath}, AnalysisArgs(l))

	w, err := LookupPlatform("windows")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("KataGo", "katago.exe"), r.Layout(w).BinaryPath)

	_, err = LookupPlatform("plan9")
	assert.Error(t, err)

	_, err = p.Archive(Variant(42))
	assert.Error(t, err)
}

func TestLaunchRelaysStdio(t *testing.T) {
	skipOnWindows(t)
	ctx := context.Background()

	h, err := NewSupervisor(log).Launch(ctx, Command{Path: "cat"})
	require.NoError(t, err)

	stdin := h.Stdin()
	stdout := h.Stdout()

	_, err = stdin.Write([]byte("hello\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	require.NoError(t, stdin.Close())
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	require.NoError(t, stdout.Close())
}

func TestOutputSurvivesExit(t *testing.T) {
	skipOnWindows(t)
	ctx := context.Background()

	h, err := NewSupervisor(log).Launch(ctx, Command{Path: "sh", Args: []string{"-c", "printf $GREETING"}, Env: []string{"GREETING=hi"}})
	require.NoError(t, err)
	stdout := h.Stdout()

	_, err = h.Wait(ctx)
	require.NoError(t, err)

	b, err := io.ReadAll(stdout)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b))
	h.Stop()
}

func TestStreamsCanOnlyBeTakenOnce(t *testing.T) {
	skipOnWindows(t)
	h, err := NewSupervisor(log).Launch(context.Background(), Command{Path: "cat"})
	require.NoError(t, err)
	t.Cleanup(func() { h.Stop() })

	stdin := h.Stdin()
	defer stdin.Close()
	stdout := h.Stdout()
	defer stdout.Close()

	assert.Panics(t, func() { h.Stdin() })
	assert.Panics(t, func() { h.Stdout() })
}

func TestLaunchMissingExecutable(t *testing.T) {
	_, err := NewSupervisor(log).Launch(context.Background(), Command{Path: filepath.Join(t.TempDir(), "katago")})
	require.Error(t, err)
	assert.ErrorContains(t, err, "starting")
}

func TestStopKillsEngine(t *testing.T) {
	skipOnWindows(t)
	h, err := NewSupervisor(log).Launch(context.Background(), Command{Path: "sleep", Args: []string{"60"}})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, _ := h.Stop()
		assert.NotEqual(t, 0, res.ExitCode)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out stopping engine")
	}
}

func TestContextCancelKillsEngine(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithCancel(context.Background())
	h, err := NewSupervisor(log).Launch(ctx, Command{Path: "sleep", Args: []string{"60"}})
	require.NoError(t, err)
	t.Cleanup(func() { h.Stop() })

	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	_, err = h.Wait(waitCtx)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
	select {
	case <-h.Exited():
	default:
		t.Fatal("engine did not exit")
	}
}
