package canister

import (
	"errors"
	"testing"

	canistersim "github.com/wippyai/canister-sim"
	simerrors "github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"Echo", "echo"},
		{"AddOne", "add_one"},
		{"GetHTTPServer", "get_http_server"},
		{"GetHTTPURL", "get_httpurl"},
		{"URLFor", "url_for"},
		{"ParseJSONBody", "parse_json_body"},
		{"ID", "id"},
		{"Get2Items", "get2_items"},
	}
	for _, tt := range tests {
		if got := toSnakeCase(tt.in); got != tt.want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddMethod(t *testing.T) {
	c := New("test")
	noop := func(System) {}

	if err := c.AddMethod(Method{Name: "a", Handler: noop}); err != nil {
		t.Fatalf("AddMethod: %v", err)
	}
	if err := c.AddMethod(Method{Name: "a", Handler: noop}); !errors.Is(err, simerrors.ErrDuplicate) {
		t.Errorf("expected duplicate, got %v", err)
	}
	if err := c.AddMethod(Method{Name: "", Handler: noop}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := c.AddMethod(Method{Name: "b"}); err == nil {
		t.Error("expected error for nil handler")
	}

	c.Query("q", noop).Update("u", noop)
	m, ok := c.Method("q")
	if !ok || m.Mode != ModeQuery {
		t.Errorf("q: ok=%v mode=%v", ok, m)
	}
	if got := c.Methods(); len(got) != 3 || got[0] != "a" || got[1] != "q" || got[2] != "u" {
		t.Errorf("Methods() = %v", got)
	}
}

func TestUpdatePanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	New("dup").Update("x", func(System) {}).Update("x", func(System) {})
}

type counterLogic struct {
	inits int
}

func (c *counterLogic) Init(System)                { c.inits++ }
func (c *counterLogic) Heartbeat(System)           {}
func (c *counterLogic) Increment(System)           {}
func (c *counterLogic) GetValue(System)            {}
func (c *counterLogic) InspectMessage(System) bool { return true }
func (c *counterLogic) Helper(int) int             { return 0 }
func (c *counterLogic) QueryMethods() []string     { return []string{"get_value"} }

func TestRegisterMethods(t *testing.T) {
	logic := &counterLogic{}
	c := New("counter")
	if err := c.RegisterMethods(logic); err != nil {
		t.Fatalf("RegisterMethods: %v", err)
	}

	if m, ok := c.Method("increment"); !ok || m.Mode != ModeUpdate {
		t.Errorf("increment not registered as update")
	}
	if m, ok := c.Method("get_value"); !ok || m.Mode != ModeQuery {
		t.Errorf("get_value not registered as query")
	}
	if _, ok := c.Method("helper"); ok {
		t.Error("helper has the wrong signature and should be skipped")
	}
	if _, ok := c.Method("init"); ok {
		t.Error("init must be a hook, not a method")
	}
	if c.Init() == nil || c.Heartbeat() == nil || c.InspectMessage() == nil {
		t.Fatal("lifecycle hooks not bound")
	}
	if c.PreUpgrade() != nil {
		t.Error("PreUpgrade should be unset")
	}

	c.Init()(nil)
	if logic.inits != 1 {
		t.Errorf("init hook not bound to receiver")
	}
}

type missingQuery struct{}

func (missingQuery) Ping(System)            {}
func (missingQuery) QueryMethods() []string { return []string{"pong"} }

func TestRegisterMethodsMissingQuery(t *testing.T) {
	err := New("x").RegisterMethods(missingQuery{})
	if !errors.Is(err, simerrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// stubSystem implements the parts of System that typed handlers touch.
type stubSystem struct {
	System
	arg      []byte
	reply    []byte
	rejected string
	replied  bool
}

func (s *stubSystem) ArgData() ([]byte, error) { return s.arg, nil }
func (s *stubSystem) Reply(data []byte) error {
	s.reply = append(s.reply, data...)
	s.replied = true
	return nil
}
func (s *stubSystem) Reject(msg string) error {
	s.rejected = msg
	s.replied = true
	return nil
}
func (s *stubSystem) Trap(msg string) { panic("trap: " + msg) }

type pair struct {
	A int `cbor:"a"`
	B int `cbor:"b"`
}

func TestTypedCBOR(t *testing.T) {
	h := Typed(CBOR, func(_ System, p pair) (int, error) {
		return p.A + p.B, nil
	})

	sys := &stubSystem{arg: MustEncode(CBOR, pair{A: 2, B: 3})}
	h(sys)
	if !sys.replied {
		t.Fatal("expected reply")
	}
	got, err := Decode[int](CBOR, sys.reply)
	if err != nil || got != 5 {
		t.Errorf("reply = %v, %v; want 5", got, err)
	}
}

func TestTypedEmptyArgIsZero(t *testing.T) {
	var seen pair
	h := Typed(CBOR, func(_ System, p pair) (string, error) {
		seen = p
		return "ok", nil
	})
	sys := &stubSystem{}
	h(sys)
	if seen != (pair{}) {
		t.Errorf("expected zero value, got %+v", seen)
	}
}

func TestTypedErrorRejects(t *testing.T) {
	h := Typed(Raw, func(_ System, s string) (string, error) {
		return "", errors.New("bad input " + s)
	})
	sys := &stubSystem{arg: []byte("x")}
	h(sys)
	if sys.rejected != "bad input x" {
		t.Errorf("rejected = %q", sys.rejected)
	}
}

func TestTypedDecodeFailureTraps(t *testing.T) {
	h := Typed(CBOR, func(_ System, n int) (int, error) { return n, nil })
	defer func() {
		if recover() == nil {
			t.Error("expected trap")
		}
	}()
	h(&stubSystem{arg: []byte{0xff, 0x00}})
}

func TestRawCodec(t *testing.T) {
	b, err := Raw.Marshal("hi")
	if err != nil || string(b) != "hi" {
		t.Errorf("Marshal = %q, %v", b, err)
	}
	var out []byte
	if err := Raw.Unmarshal([]byte{1, 2}, &out); err != nil || len(out) != 2 {
		t.Errorf("Unmarshal = %v, %v", out, err)
	}
	if _, err := Raw.Marshal(42); err == nil {
		t.Error("expected error for int")
	}
}

func TestCBORPrincipal(t *testing.T) {
	p := principal.FromCanisterID(7)
	b, err := CBOR.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Decode[principal.Principal](CBOR, b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != p {
		t.Errorf("got %s, want %s", got, p)
	}
}

type stubPending struct {
	out canistersim.Outcome
}

func (p stubPending) ID() uint64                          { return 1 }
func (p stubPending) Await() (canistersim.Outcome, error) { return p.out, nil }

func TestAwait(t *testing.T) {
	got, err := Await[int](CBOR, stubPending{out: canistersim.Reply(MustEncode(CBOR, 6))})
	if err != nil || got != 6 {
		t.Errorf("Await = %v, %v", got, err)
	}

	_, err = Await[int](CBOR, stubPending{out: canistersim.Reject(canistersim.CanisterReject, "no")})
	var rej *canistersim.RejectError
	if !errors.As(err, &rej) || rej.Code != canistersim.CanisterReject {
		t.Errorf("expected reject error, got %v", err)
	}
}

func TestEntryModeReadOnly(t *testing.T) {
	if !EntryQuery.ReadOnly() || !EntryInspectMessage.ReadOnly() {
		t.Error("query and inspect must be read-only")
	}
	if EntryUpdate.ReadOnly() || EntryReplyCallback.ReadOnly() {
		t.Error("update and callbacks are writable")
	}
	if EntryUpdate.String() != "canister_update" {
		t.Errorf("String() = %q", EntryUpdate.String())
	}
}
