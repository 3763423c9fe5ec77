package install

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/probectl/probectl/topology"
)

// generateBundle writes the full configuration bundle for the fleet into a
// fresh local directory: one environment file per node under nodes/, plus a
// manifest describing the whole topology. Returns the bundle directory and
// the bundle version (a checksum over every generated file).
func (i *Installer) generateBundle() (string, string, error) {
	dir, err := os.MkdirTemp("", "probectl-bundle-")
	if err != nil {
		return "", "", fmt.Errorf("failed to create bundle directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "nodes"), 0755); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("failed to create bundle layout: %w", err)
	}

	manager := i.topo.Manager()
	var manifest strings.Builder
	fmt.Fprintf(&manifest, "# generated by probectl; do not edit\n")

	for _, n := range i.topo.All() {
		fmt.Fprintf(&manifest, "node %s type=%s host=%s\n", n.Name, n.Type, n.Host)

		envPath := filepath.Join(dir, "nodes", n.Name+".env")
		if err := os.WriteFile(envPath, []byte(i.nodeEnv(n, manager)), 0644); err != nil {
			os.RemoveAll(dir)
			return "", "", fmt.Errorf("failed to write %s: %w", envPath, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "fleet.cfg"), []byte(manifest.String()), 0644); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("failed to write manifest: %w", err)
	}

	version, err := bundleVersion(dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}

	return dir, version, nil
}

// nodeEnv renders the generated environment file for one node
func (i *Installer) nodeEnv(n, manager *topology.Node) string {
	var b strings.Builder

	fmt.Fprintf(&b, "PROBE_NODE=%s\n", n.Name)
	fmt.Fprintf(&b, "PROBE_TYPE=%s\n", n.Type)
	fmt.Fprintf(&b, "PROBE_HOST=%s\n", n.Host)
	if manager != nil && manager.Name != n.Name {
		fmt.Fprintf(&b, "PROBE_MANAGER=%s\n", manager.Host)
		if manager.Port > 0 {
			fmt.Fprintf(&b, "PROBE_MANAGER_PORT=%d\n", manager.Port)
		}
	}
	if n.Interface != "" {
		fmt.Fprintf(&b, "PROBE_INTERFACE=%s\n", n.Interface)
	}
	if n.Port > 0 {
		fmt.Fprintf(&b, "PROBE_PORT=%d\n", n.Port)
	}

	writeEnv(&b, i.settings.Env)
	writeEnv(&b, n.Env)

	return b.String()
}

func writeEnv(b *strings.Builder, env map[string]string) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "export %s=%q\n", k, env[k])
	}
}

// bundleVersion computes a checksum over every file in the bundle, walked in
// stable order
func bundleVersion(dir string) (string, error) {
	h := sha256.New()

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		io.WriteString(h, rel)

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(h, f)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to checksum bundle: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil))[:12], nil
}

// bundleFiles lists every file in the bundle relative to its root
func bundleFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk bundle: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
