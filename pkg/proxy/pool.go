package proxy

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"net/url"
	"strings"

	"testnet-automation/pkg/shared"

	"github.com/rs/zerolog/log"
)

// Pool is an immutable set of proxy endpoints. An empty pool means direct
// connections.
type Pool struct {
	proxies []*url.URL
	rnd     *rand.Rand
}

func NewPool(entries []string, rnd *rand.Rand) (*Pool, error) {
	p := &Pool{rnd: rnd}
	for _, e := range entries {
		u, err := Parse(e)
		if err != nil {
			return nil, err
		}
		p.proxies = append(p.proxies, u)
	}
	return p, nil
}

// Load reads newline-delimited proxy URIs. A missing file is not an error.
func Load(path string) (*Pool, error) {
	lines, err := shared.ReadLines(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("file", path).Msg("proxy list not found, using direct connection")
		return &Pool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy list: %w", err)
	}
	p, err := NewPool(lines, nil)
	if err != nil {
		return nil, err
	}
	log.Info().Int("count", p.Len()).Msg("loaded proxies")
	return p, nil
}

// Parse normalises a proxy entry. Bare host:port and user:pass@host:port
// entries are treated as http proxies.
func Parse(entry string) (*url.URL, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil, errors.New("empty proxy entry")
	}
	if !strings.Contains(entry, "://") {
		entry = "http://" + entry
	}
	u, err := url.Parse(entry)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", redact(entry), err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q: missing host", redact(entry))
	}
	return u, nil
}

func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.proxies)
}

// Pick returns a uniformly random proxy, or nil for a direct connection.
// Each call is independent.
func (p *Pool) Pick() *url.URL {
	if p.Len() == 0 {
		return nil
	}
	var i int
	if p.rnd != nil {
		i = p.rnd.Intn(len(p.proxies))
	} else {
		i = rand.Intn(len(p.proxies))
	}
	u := *p.proxies[i]
	return &u
}

// Redacted renders a proxy URL without credentials, for logging.
func Redacted(u *url.URL) string {
	if u == nil {
		return "direct"
	}
	return u.Redacted()
}

func redact(entry string) string {
	if i := strings.LastIndex(entry, "@"); i >= 0 {
		if j := strings.Index(entry, "://"); j >= 0 && j < i {
			return entry[:j+3] + "***@" + entry[i+1:]
		}
		return "***@" + entry[i+1:]
	}
	return entry
}
