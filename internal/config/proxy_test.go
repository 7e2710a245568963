package config

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	json "github.com/goccy/go-json"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Proxy{Name: "foo", Listen: "127.0.0.1:5431", Upstream: "127.0.0.1:5432", Enabled: true}

	tests := []struct {
		name    string
		mutate  func(*Proxy)
		wantErr error
	}{
		{name: "valid", mutate: func(*Proxy) {}},
		{name: "missing name", mutate: func(p *Proxy) { p.Name = "" }, wantErr: ErrMissingName},
		{name: "missing listen", mutate: func(p *Proxy) { p.Listen = "" }, wantErr: ErrMissingListen},
		{name: "missing upstream", mutate: func(p *Proxy) { p.Upstream = "" }, wantErr: ErrMissingUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err=%v want %v", err, tt.wantErr)
			}
		})
	}
}

func TestProxyJSON(t *testing.T) {
	t.Parallel()

	seed := uint64(3)
	p := Proxy{
		Name:     "foo",
		Listen:   "127.0.0.1:5431",
		Upstream: "127.0.0.1:5432",
		Enabled:  false,
		RandSeed: &seed,
	}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"name":"foo","listen":"127.0.0.1:5431","upstream":"127.0.0.1:5432","enabled":false}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}

	var got Proxy
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	p.RandSeed = nil
	if diff := cmp.Diff(p, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestProxyJSONDefaultEnabled(t *testing.T) {
	t.Parallel()

	var got Proxy
	in := `{"name":"foo","listen":"127.0.0.1:5431","upstream":"127.0.0.1:5432"}`
	if err := json.Unmarshal([]byte(in), &got); err != nil {
		t.Fatal(err)
	}
	want := Proxy{Name: "foo", Listen: "127.0.0.1:5431", Upstream: "127.0.0.1:5432", Enabled: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}
