package infra

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// XDG autostart entry template (runs at graphical login)
const desktopEntryTemplate = `[Desktop Entry]
Type=Application
Name={{.Name}}
Comment=Start and stop {{.BackendName}} with the screen lock
Exec={{.ExecutablePath}} run --backend {{.BackendID}}
Icon={{.Icon}}
Terminal=false
X-GNOME-Autostart-enabled=true
X-GNOME-Autostart-Delay=5
`

type desktopEntryConfig struct {
	Name           string
	BackendName    string
	BackendID      string
	ExecutablePath string
	Icon           string
}

// AutostartManagerImpl implements domain.AutostartManager with an XDG .desktop file.
type AutostartManagerImpl struct {
	backend domain.BackendConfig
	dir     string
	path    string
}

// NewAutostartManager creates a manager writing into dir (usually ~/.config/autostart).
// One entry per backend, so several applets can autostart side by side.
func NewAutostartManager(dir string, backend domain.BackendConfig) *AutostartManagerImpl {
	return &AutostartManagerImpl{
		backend: backend,
		dir:     dir,
		path:    filepath.Join(dir, AppName+"-"+backend.ID+".desktop"),
	}
}

// generateContent creates the .desktop content for the given exec path.
func (m *AutostartManagerImpl) generateContent(execPath string) ([]byte, error) {
	config := desktopEntryConfig{
		Name:           m.backend.Name + " Tray",
		BackendName:    m.backend.Name,
		BackendID:      m.backend.ID,
		ExecutablePath: execPath,
		Icon:           m.backend.Icon(domain.DisplayActive),
	}

	tmpl, err := template.New("desktop").Parse(desktopEntryTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse desktop entry template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute desktop entry template: %w", err)
	}

	return buf.Bytes(), nil
}

// Install writes the autostart entry, replacing any existing one.
func (m *AutostartManagerImpl) Install(execPath string) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return err
	}

	content, err := m.generateContent(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate desktop entry: %w", err)
	}

	return os.WriteFile(m.path, content, 0644)
}

// Uninstall removes the autostart entry. A missing entry is not an error.
func (m *AutostartManagerImpl) Uninstall() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsInstalled checks if the entry exists.
func (m *AutostartManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// NeedsUpdate checks if the entry exists but has different content than expected.
func (m *AutostartManagerImpl) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false // needs install, not update
	}

	current, err := os.ReadFile(m.path)
	if err != nil {
		return true
	}

	expected, err := m.generateContent(execPath)
	if err != nil {
		return true
	}

	return !bytes.Equal(current, expected)
}

// Path returns the .desktop file path.
func (m *AutostartManagerImpl) Path() string {
	return m.path
}

// Ensure AutostartManagerImpl implements domain.AutostartManager.
var _ domain.AutostartManager = (*AutostartManagerImpl)(nil)
