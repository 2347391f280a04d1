package nlsock

import (
	"fmt"
	"log"
	"os/exec"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/m-lab/gnl/genl"
	"github.com/m-lab/gnl/metrics"
)

// ModuleLoader loads a kernel module by name. The default implementation
// shells out to modprobe; callers in environments where modules are always
// already loaded (containers with a pre-built kernel, tests) can substitute
// a no-op loader with SetModuleLoader.
type ModuleLoader interface {
	LoadModule(name string) error
}

type modprobeLoader struct{}

func (modprobeLoader) LoadModule(name string) error {
	return exec.Command("modprobe", name).Run()
}

var moduleLoader ModuleLoader = modprobeLoader{}

// SetModuleLoader overrides the ModuleLoader bootstrap uses to satisfy a
// family schema's WithRequiredModules declarations. It must be called
// before the first Open call in the process; bootstrap itself only ever
// runs once.
func SetModuleLoader(l ModuleLoader) { moduleLoader = l }

var (
	bootstrapOnce sync.Once
	bootstrapErr  error
)

// bootstrap resolves every family schema registered by name (ipvs,
// taskstats, cgroupstats) to its numeric family id, exactly once per
// process, via CTRL_CMD_GETFAMILY against the well-known control family.
// Families already declared with a fixed id (genl.Ctrl itself) need no
// resolution and are skipped.
func bootstrap() error {
	bootstrapOnce.Do(func() {
		bootstrapErr = resolveFamilies()
	})
	return bootstrapErr
}

func resolveFamilies() error {
	pending := genl.DefaultRegistry.Pending()
	if len(pending) == 0 {
		return nil
	}
	s, err := newSocket()
	if err != nil {
		return err
	}
	defer s.Close()

	for _, p := range pending {
		for _, mod := range p.RequiredModules {
			if err := moduleLoader.LoadModule(mod); err != nil {
				log.Printf("nlsock: bootstrap: loading module %q for family %q: %v", mod, p.Name, err)
				metrics.BootstrapCount.With(prometheus.Labels{"outcome": "missing_module"}).Inc()
				return fmt.Errorf("nlsock: bootstrap: loading module %q for family %q: %w", mod, p.Name, err)
			}
		}
		id, err := s.getFamilyID(p.Name)
		if err != nil {
			metrics.BootstrapCount.With(prometheus.Labels{"outcome": "error"}).Inc()
			return fmt.Errorf("nlsock: bootstrap: resolving family %q: %w", p.Name, err)
		}
		if err := genl.DefaultRegistry.Resolve(p.Name, id); err != nil {
			metrics.BootstrapCount.With(prometheus.Labels{"outcome": "error"}).Inc()
			return fmt.Errorf("nlsock: bootstrap: %w", err)
		}
		metrics.BootstrapCount.With(prometheus.Labels{"outcome": "resolved"}).Inc()
	}
	return nil
}

func (s *Socket) getFamilyID(name string) (uint16, error) {
	m := genl.Ctrl.NewMsg("GETFAMILY", genl.CtrlAttrList.New(map[string]any{"family_name": name}))
	replies, err := s.query(m)
	if err != nil {
		return 0, err
	}
	for _, r := range replies {
		msg, ok := r.(*genl.Msg)
		if !ok || msg.Attrs == nil || !msg.Attrs.Has("family_id") {
			continue
		}
		id, ok := msg.Attrs.Get("family_id").(uint16)
		if !ok {
			return 0, fmt.Errorf("nlsock: FAMILY_ID attribute has unexpected type %T", msg.Attrs.Get("family_id"))
		}
		return id, nil
	}
	return 0, fmt.Errorf("nlsock: no FAMILY_ID in GETFAMILY reply for %q", name)
}
