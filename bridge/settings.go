package bridge

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/novinai/novin-bridge/errors"
)

// pathListSeparator splits the search path argument. It is a colon on every
// platform, matching the host contract.
const pathListSeparator = ":"

// settings are the decoded Initialize arguments, retained until Finalize.
type settings struct {
	home       string
	searchPath []string
}

func decodeSettings(home, path string, maxEntries int, log *zap.Logger) (*settings, error) {
	s := &settings{}

	if home != "" {
		if err := checkPath(home); err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Detail("decode home").
				Cause(err).
				Build()
		}
		s.home = filepath.Clean(home)
	}

	if path == "" {
		return s, nil
	}

	for _, entry := range strings.Split(path, pathListSeparator) {
		if entry == "" {
			continue
		}
		if err := checkPath(entry); err != nil {
			log.Warn("skipping search path entry", zap.Error(err))
			continue
		}
		if len(s.searchPath) == maxEntries {
			return nil, errors.InvalidInput(errors.PhaseConfig,
				fmt.Sprintf("search path exceeds %d entries", maxEntries))
		}
		s.searchPath = append(s.searchPath, filepath.Clean(entry))
	}

	return s, nil
}

func checkPath(p string) error {
	if !utf8.ValidString(p) {
		return fmt.Errorf("path %q is not valid UTF-8", p)
	}
	if strings.IndexByte(p, 0) >= 0 {
		return fmt.Errorf("path %q contains NUL", p)
	}
	return nil
}
