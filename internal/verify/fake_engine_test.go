package verify

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/creamcroissant/clashforge/internal/core"
)

// behavior scripts how the fake engine acts for one proxy name.
type behavior struct {
	launchErr  error
	panicMsg   string
	exitEarly  bool
	neverReady bool
	// delays maps a probe URL substring to the delay reported for it.
	// URLs without a match report a 504 timeout.
	delays map[string]int
}

// fakeEngine serves a minimal control API on the claimed control port.
type fakeEngine struct {
	secret    string
	behaviors map[string]behavior

	mu            sync.Mutex
	launches      map[string]int
	probes        []string
	configSecrets []string
	authHeaders   []string
}

func newFakeEngine(secret string, behaviors map[string]behavior) *fakeEngine {
	return &fakeEngine{secret: secret, behaviors: behaviors, launches: map[string]int{}}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) launchCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launches[name]
}

func (e *fakeEngine) Launch(_ context.Context, spec core.LaunchSpec) (core.Process, error) {
	if err := core.ValidateConfig(spec.ConfigPath); err != nil {
		return nil, &core.LaunchError{Engine: e.Name(), Reason: "invalid config", Err: err}
	}
	name, secret := readEngineConfig(spec.ConfigPath)
	e.mu.Lock()
	e.launches[name]++
	e.configSecrets = append(e.configSecrets, secret)
	e.mu.Unlock()

	b := e.behaviors[name]
	if b.panicMsg != "" {
		panic(b.panicMsg)
	}
	if b.launchErr != nil {
		return nil, &core.LaunchError{Engine: e.Name(), Reason: "start", Err: b.launchErr}
	}

	p := &fakeProcess{done: make(chan struct{})}
	if b.exitEarly {
		close(p.done)
		return p, nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(spec.ControlPort))
	if err != nil {
		return nil, &core.LaunchError{Engine: e.Name(), Reason: "listen", Err: err}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		if !e.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if b.neverReady {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"version":"fake-1.0"}`))
	})
	mux.HandleFunc("/proxies/", func(w http.ResponseWriter, r *http.Request) {
		if !e.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		target := r.URL.Query().Get("url")
		e.mu.Lock()
		e.probes = append(e.probes, name+" "+target)
		e.mu.Unlock()
		for fragment, delay := range b.delays {
			if strings.Contains(target, fragment) {
				fmt.Fprintf(w, `{"delay":%d}`, delay)
				return
			}
		}
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte(`{"message":"Timeout"}`))
	})
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: time.Second}
	go func() { _ = p.server.Serve(ln) }()
	return p, nil
}

func (e *fakeEngine) authorized(r *http.Request) bool {
	e.mu.Lock()
	e.authHeaders = append(e.authHeaders, r.Header.Get("Authorization"))
	e.mu.Unlock()
	if e.secret == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+e.secret
}

type fakeProcess struct {
	server   *http.Server
	done     chan struct{}
	stopOnce sync.Once
}

func (p *fakeProcess) PID() int { return 0 }

func (p *fakeProcess) Exited() <-chan struct{} { return p.done }

func (p *fakeProcess) Stop() error {
	p.stopOnce.Do(func() {
		if p.server != nil {
			_ = p.server.Close()
		}
		select {
		case <-p.done:
		default:
			close(p.done)
		}
	})
	return nil
}

func readEngineConfig(path string) (name, secret string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", ""
	}
	var doc struct {
		Secret  string `yaml:"secret"`
		Proxies []struct {
			Name string `yaml:"name"`
		} `yaml:"proxies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Proxies) == 0 {
		return "", doc.Secret
	}
	return doc.Proxies[0].Name, doc.Secret
}
