package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/jarm-bridge/internal/bridge/mocks"
	"github.com/mattjoyce/jarm-bridge/internal/framing"
	"github.com/mattjoyce/jarm-bridge/internal/log"
	"github.com/mattjoyce/jarm-bridge/internal/scan"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func frame(t *testing.T, payload string) []byte {
	t.Helper()
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}

func stream(t *testing.T, payloads ...string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, p := range payloads {
		buf.Write(frame(t, p))
	}
	return &buf
}

// replies decodes every frame written by the bridge as raw JSON strings.
func replies(t *testing.T, out *bytes.Buffer) []string {
	t.Helper()
	var got []string
	for out.Len() > 0 {
		var n uint32
		require.NoError(t, binary.Read(out, binary.LittleEndian, &n))
		payload := make([]byte, n)
		_, err := io.ReadFull(out, payload)
		require.NoError(t, err)
		got = append(got, string(payload))
	}
	return got
}

func newBridge(in io.Reader, out io.Writer, r Runner) *Bridge {
	return New(framing.New(in, out, framing.Options{}), r)
}

func TestRun_EndOfStreamOnFirstReceive(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl) // no calls expected

	var out bytes.Buffer
	err := newBridge(bytes.NewReader(nil), &out, runner).Run(context.Background())

	require.NoError(t, err)
	assert.Zero(t, out.Len(), "no response may be sent")
}

func TestRun_MissingTargetThenNextRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), "example.com").Return(scan.Result{
		Stdout: "Domain: example.com\n",
	}, nil)

	in := stream(t, `{"host":"example.com"}`, `{}`, `{"target":"example.com"}`)
	var out bytes.Buffer
	require.NoError(t, newBridge(in, &out, runner).Run(context.Background()))

	got := replies(t, &out)
	require.Len(t, got, 3)
	assert.JSONEq(t, `{"error":"No target specified"}`, got[0])
	assert.JSONEq(t, `{"error":"No target specified"}`, got[1])
	assert.JSONEq(t, `{"Domain":"example.com","Resolved IP":null,"JARM":null}`, got[2])
}

func TestRun_NonObjectRequestIsMissingTarget(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	in := stream(t, `["example.com"]`, `null`)
	var out bytes.Buffer
	require.NoError(t, newBridge(in, &out, runner).Run(context.Background()))

	got := replies(t, &out)
	require.Len(t, got, 2)
	for _, r := range got {
		assert.JSONEq(t, `{"error":"No target specified"}`, r)
	}
}

func TestRun_TargetNotString(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	in := stream(t, `{"target":42}`)
	var out bytes.Buffer
	require.NoError(t, newBridge(in, &out, runner).Run(context.Background()))

	got := replies(t, &out)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"error":"Target must be a string"}`, got[0])
}

func TestRun_ScanOutcomes(t *testing.T) {
	const jarm = "07d14d16d21d21d07c42d41d00041d24a458a375eef0c576d23a7bab9a9fb1"

	tests := []struct {
		name   string
		result scan.Result
		err    error
		want   string
	}{
		{
			name: "all fields",
			result: scan.Result{
				Stdout: "Domain: example.com\nResolved IP: 1.2.3.4\nJARM: " + jarm + "\n",
			},
			want: `{"Domain":"example.com","Resolved IP":"1.2.3.4","JARM":"` + jarm + `"}`,
		},
		{
			name: "mixed case prefixes",
			result: scan.Result{
				Stdout: "DOMAIN: example.com\nresolved IP: 1.2.3.4\njarm: " + jarm + "\n",
			},
			want: `{"Domain":"example.com","Resolved IP":"1.2.3.4","JARM":"` + jarm + `"}`,
		},
		{
			name:   "no recognised lines",
			result: scan.Result{Stdout: "scanning...\ndone\n"},
			want:   `{"Domain":null,"Resolved IP":null,"JARM":null}`,
		},
		{
			name:   "tool failure",
			result: scan.Result{ExitCode: 1, Stderr: "connection refused\n"},
			want:   `{"error":"connection refused"}`,
		},
		{
			name: "tool failure ignores stdout",
			result: scan.Result{
				ExitCode: 2,
				Stdout:   "Domain: example.com\n",
				Stderr:   "  Traceback: boom  ",
			},
			want: `{"error":"Traceback: boom"}`,
		},
		{
			name:   "tool failure without diagnostic",
			result: scan.Result{ExitCode: 3},
			want:   `{"error":"scan tool exited with status 3"}`,
		},
		{
			name: "tool could not run",
			err:  errors.New("start scan tool: exec: \"python3\": executable file not found in $PATH"),
			want: `{"error":"start scan tool: exec: \"python3\": executable file not found in $PATH"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			runner := mocks.NewMockRunner(ctrl)
			runner.EXPECT().Run(gomock.Any(), "example.com").Return(tt.result, tt.err)

			in := stream(t, `{"target":"example.com"}`)
			var out bytes.Buffer
			require.NoError(t, newBridge(in, &out, runner).Run(context.Background()))

			got := replies(t, &out)
			require.Len(t, got, 1)
			assert.JSONEq(t, tt.want, got[0])
		})
	}
}

func TestRun_RequestsServedInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any(), "a.example").Return(scan.Result{Stdout: "Domain: a.example"}, nil),
		runner.EXPECT().Run(gomock.Any(), "b.example").Return(scan.Result{ExitCode: 1, Stderr: "timeout"}, nil),
		runner.EXPECT().Run(gomock.Any(), "c.example").Return(scan.Result{Stdout: "Domain: c.example"}, nil),
	)

	in := stream(t, `{"target":"a.example"}`, `{"target":"b.example"}`, `{"target":"c.example"}`)
	var out bytes.Buffer
	require.NoError(t, newBridge(in, &out, runner).Run(context.Background()))

	got := replies(t, &out)
	require.Len(t, got, 3)
	assert.JSONEq(t, `{"Domain":"a.example","Resolved IP":null,"JARM":null}`, got[0])
	assert.JSONEq(t, `{"error":"timeout"}`, got[1])
	assert.JSONEq(t, `{"Domain":"c.example","Resolved IP":null,"JARM":null}`, got[2])
}

func TestRun_TruncatedPrefixIsFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), "example.com").Return(scan.Result{}, nil)

	in := stream(t, `{"target":"example.com"}`)
	in.Write([]byte{0x10, 0x00})

	var out bytes.Buffer
	err := newBridge(in, &out, runner).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, framing.ErrFraming)
	assert.ErrorIs(t, err, framing.ErrTruncatedPrefix)
	assert.Len(t, replies(t, &out), 1, "only the complete request gets a reply")
}

func TestRun_InvalidJSONIsFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	in := stream(t, `{"target":`)
	var out bytes.Buffer
	err := newBridge(in, &out, runner).Run(context.Background())

	assert.ErrorIs(t, err, framing.ErrInvalidPayload)
	assert.Zero(t, out.Len())
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestRun_SendFailureIsFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	in := stream(t, `{}`, `{"target":"never.example"}`)
	err := newBridge(in, brokenWriter{}, runner).Run(context.Background())

	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestRun_CancelledContextStopsBeforeNextRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	runner := RunnerFunc(func(ctx context.Context, target string) (scan.Result, error) {
		calls++
		cancel()
		return scan.Result{Stdout: "Domain: " + target}, nil
	})

	in := stream(t, `{"target":"first.example"}`, `{"target":"second.example"}`)
	var out bytes.Buffer
	err := newBridge(in, &out, runner).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	got := replies(t, &out)
	require.Len(t, got, 1, "the in-flight request still gets its reply")
}

func TestRunnerFunc(t *testing.T) {
	f := RunnerFunc(func(_ context.Context, target string) (scan.Result, error) {
		return scan.Result{ExitCode: 7, Stdout: target}, nil
	})

	res, err := f.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, scan.Result{ExitCode: 7, Stdout: "x"}, res)
}

func TestErrorReplyShape(t *testing.T) {
	b, err := json.Marshal(ErrorReply{Error: MsgNoTarget})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"No target specified"}`, string(b))
}

func TestRun_RequestLogsCarryComponentAndRequestID(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), "example.com").Return(scan.Result{Stdout: "Domain: example.com"}, nil)

	var logs bytes.Buffer
	b := newBridge(stream(t, `{"target":"example.com"}`), io.Discard, runner)
	b.logger = slog.New(slog.NewJSONHandler(&logs, nil)).With(slog.String("component", "bridge"))

	require.NoError(t, b.Run(context.Background()))

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] != "running scan" {
			continue
		}
		found = true
		assert.Equal(t, "bridge", entry["component"])
		assert.NotEmpty(t, entry["request_id"])
		assert.Equal(t, "example.com", entry["target"])
	}
	assert.True(t, found, "no request log line in %s", logs.String())
}
