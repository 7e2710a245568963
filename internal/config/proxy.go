package config

import (
	"errors"

	json "github.com/goccy/go-json"
)

var (
	ErrMissingName     = errors.New("name missing")
	ErrMissingUpstream = errors.New("upstream missing")
	ErrMissingListen   = errors.New("listen address missing")
)

// Proxy is the immutable configuration of one proxy.
type Proxy struct {
	// Name is an arbitrary, unique name.
	Name string `json:"name"`
	// Listen is the host:port the proxy listens on, like 127.0.0.1:5431.
	Listen string `json:"listen"`
	// Upstream is the host:port the proxy connects to, like 127.0.0.1:5432.
	Upstream string `json:"upstream"`
	// Enabled proxies accept connections. Defaults to true.
	Enabled bool `json:"enabled"`
	// RandSeed makes stochastic toxics deterministic. Never serialized.
	RandSeed *uint64 `json:"-"`
}

// Validate reports the first missing required field.
func (p Proxy) Validate() error {
	switch {
	case p.Name == "":
		return ErrMissingName
	case p.Upstream == "":
		return ErrMissingUpstream
	case p.Listen == "":
		return ErrMissingListen
	}
	return nil
}

func (p *Proxy) UnmarshalJSON(b []byte) error {
	type plain Proxy
	v := plain{Enabled: true}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = Proxy(v)
	p.RandSeed = nil
	return nil
}
