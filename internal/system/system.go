package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrDependencyMissing — в окружении нет нужных инструментов; установка
// делегируется вызывающему, ядро само ничего не ставит и не ретраит.
var ErrDependencyMissing = errors.New("required tools missing")

// Activator — внешний сервис активации (systemd + wg-quick). Ядро считает
// его сбой предупреждением: сущность остаётся provisioned.
type Activator interface {
	// Sync отдаёт движку свежий серверный артефакт туннеля.
	Sync(ctx context.Context, tunnel string, artifact []byte) error
	Activate(ctx context.Context, tunnel string) error
	Deactivate(ctx context.Context, tunnel string) error
	// Remove убирает артефакт после удаления туннеля.
	Remove(ctx context.Context, tunnel string) error
}

// DepChecker отвечает на один вопрос: чего не хватает в системе.
type DepChecker interface {
	EnsureToolsPresent(ctx context.Context) (missing []string)
}

// ---- боевые реализации (тонкая прослойка над ОС) ----

// WGQuick пишет конфиги в Dir и дёргает systemctl wg-quick@<name>.
type WGQuick struct {
	Dir string // обычно /etc/wireguard
}

func NewWGQuick(dir string) *WGQuick {
	if dir == "" {
		dir = "/etc/wireguard"
	}
	return &WGQuick{Dir: dir}
}

func (w *WGQuick) confPath(tunnel string) string {
	return filepath.Join(w.Dir, tunnel+".conf")
}

func (w *WGQuick) Sync(ctx context.Context, tunnel string, artifact []byte) error {
	if err := os.MkdirAll(w.Dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(w.confPath(tunnel), artifact, 0o600); err != nil {
		return err
	}
	// перечитываем только если юнит уже поднят
	if err := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", "wg-quick@"+tunnel).Run(); err != nil {
		return nil
	}
	return run(ctx, "systemctl", "reload-or-restart", "wg-quick@"+tunnel)
}

func (w *WGQuick) Activate(ctx context.Context, tunnel string) error {
	return run(ctx, "systemctl", "start", "wg-quick@"+tunnel)
}

func (w *WGQuick) Deactivate(ctx context.Context, tunnel string) error {
	return run(ctx, "systemctl", "stop", "wg-quick@"+tunnel)
}

func (w *WGQuick) Remove(ctx context.Context, tunnel string) error {
	_ = run(ctx, "systemctl", "stop", "wg-quick@"+tunnel)
	if err := os.Remove(w.confPath(tunnel)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// LookPathChecker ищет инструменты движка в PATH.
type LookPathChecker struct {
	Tools []string
}

func NewLookPathChecker() *LookPathChecker {
	return &LookPathChecker{Tools: []string{"wg", "wg-quick", "systemctl"}}
}

func (c *LookPathChecker) EnsureToolsPresent(_ context.Context) []string {
	var missing []string
	for _, t := range c.Tools {
		if _, err := exec.LookPath(t); err != nil {
			missing = append(missing, t)
		}
	}
	return missing
}

// ---- no-op для in-memory режима и тестов ----

type NoopActivator struct{}

func (NoopActivator) Sync(context.Context, string, []byte) error { return nil }
func (NoopActivator) Activate(context.Context, string) error     { return nil }
func (NoopActivator) Deactivate(context.Context, string) error   { return nil }
func (NoopActivator) Remove(context.Context, string) error       { return nil }

type NoopChecker struct{}

func (NoopChecker) EnsureToolsPresent(context.Context) []string { return nil }
