package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/nametransfer/internal/testutil/testlog"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVoucherDeriveAndParse(t *testing.T) {
	testlog.Start(t)
	out, err := execute(t, "voucher", "derive", "--channel", "channel-0", "--collection", "names", "--token", "alice")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	id := strings.TrimSpace(out)
	if id != "transfer_name/ibc/channel-0/names/alice" {
		t.Fatalf("unexpected voucher id %q", id)
	}

	out, err = execute(t, "voucher", "parse", id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(out, "collection=names") || !strings.Contains(out, "token_id=alice") {
		t.Fatalf("unexpected parse output %q", out)
	}

	if _, err := execute(t, "voucher", "derive", "--channel", "c", "--collection", "n", "--token", "t", "--scheme", "md5"); err == nil {
		t.Fatalf("expected unknown scheme error")
	}
}

func TestPacketEncodeDecode(t *testing.T) {
	testlog.Start(t)
	out, err := execute(t, "packet", "encode", "--kind", "return", "--collection", "names", "--token", "alice", "--sender", "s", "--receiver", "r")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	data := strings.TrimSpace(out)
	if !strings.HasPrefix(data, `{"return_name":`) {
		t.Fatalf("unexpected packet data %q", data)
	}

	out, err = execute(t, "packet", "decode", data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(out, "variant=return_name") || !strings.Contains(out, "receiver=r") {
		t.Fatalf("unexpected decode output %q", out)
	}

	if _, err := execute(t, "packet", "encode", "--collection", "names", "--token", "alice", "--sender", "s"); err == nil {
		t.Fatalf("expected missing receiver error")
	}
	if _, err := execute(t, "packet", "decode", `{"burn_name":{}}`); err == nil {
		t.Fatalf("expected unknown variant error")
	}
}

func TestAckEncodeDecode(t *testing.T) {
	testlog.Start(t)
	out, err := execute(t, "ack", "encode")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.TrimSpace(out) != `{"result":"AQ=="}` {
		t.Fatalf("unexpected success ack %q", out)
	}

	out, err = execute(t, "ack", "encode", "--error", "boom")
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if strings.TrimSpace(out) != `{"error":"boom"}` {
		t.Fatalf("unexpected error ack %q", out)
	}

	out, err = execute(t, "ack", "decode", `{"result":"AQ=="}`)
	if err != nil || !strings.Contains(out, "success result=AQ==") {
		t.Fatalf("unexpected decode out=%q err=%v", out, err)
	}
	if _, err := execute(t, "ack", "decode", "not-json"); err == nil {
		t.Fatalf("expected invalid ack error")
	}
}

func TestConfigInitAndSimulate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "network.toml")

	if _, err := execute(t, "config", "init", "--kind", "network", "--output", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	out, err := execute(t, "config", "validate", path)
	if err != nil || !strings.Contains(out, "transfers=2") {
		t.Fatalf("validate out=%q err=%v", out, err)
	}

	out, err = execute(t, "simulate", "--network", path)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	for _, want := range []string{"acknowledged seq=1", "ibc-voucher-mint", "ibc-voucher-burn", "addr-alice"} {
		if !strings.Contains(out, want) {
			t.Fatalf("simulate output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "simulate", "--network", path, "--json")
	if err != nil || !strings.Contains(out, `"Holdings"`) {
		t.Fatalf("simulate json out=%q err=%v", out, err)
	}
}

func TestNodeTemplateIsValidToml(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "node.toml")
	if _, err := execute(t, "config", "init", "--kind", "node", "--output", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded map[string]any
	if _, err := toml.Decode(string(raw), &decoded); err != nil {
		t.Fatalf("decode node template: %v", err)
	}
	if decoded["chain_id"] != "chain-a" {
		t.Fatalf("unexpected chain_id %v", decoded["chain_id"])
	}
}
