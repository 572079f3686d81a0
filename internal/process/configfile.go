package process

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// configBanner heads every generated configuration file.
var configBanner = []string{
	"# VRPN server configuration file.\n",
	"# Automatically created by vrpn-core.\n",
	"# If this still exists after the server has stopped,\n",
	"# something went wrong!\n",
}

// writeConfigFile writes the banner followed by lines, verbatim, to a new
// temporary file in dir and returns its path.
func writeConfigFile(dir string, lines []string) (string, error) {
	f, err := os.CreateTemp(dir, "vrpn-*.cfg")
	if err != nil {
		return "", fmt.Errorf("creating config file: %w", err)
	}
	path := f.Name()

	w := bufio.NewWriter(f)
	for _, section := range [][]string{configBanner, lines} {
		for _, line := range section {
			if _, err := w.WriteString(line); err != nil {
				f.Close()
				os.Remove(path)
				return "", fmt.Errorf("writing config file: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing config file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing config file: %w", err)
	}
	return path, nil
}

// logConfigFile reads the file back and logs each line as path:NN:text.
func (s *Server) logConfigFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path was created by writeConfigFile
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	s.logger.Info("server config file written", "name", s.cfg.Name, "path", path)
	for i, line := range strings.SplitAfter(string(data), "\n") {
		if line == "" {
			continue
		}
		s.logger.Info("server config", "entry", formatConfigLine(path, i+1, line))
	}
	return nil
}

func formatConfigLine(path string, n int, line string) string {
	return fmt.Sprintf("%s:%02d:%s", path, n, strings.TrimRight(line, "\r\n"))
}

func (s *Server) removeConfigFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove server config file", "path", path, "error", err)
	}
}
