package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Collected is a report already present in the collection directory.
type Collected struct {
	Target  string
	Path    string
	Size    int64
	ModTime time.Time
}

// ListCollected returns the reports in dir sorted by target name. A missing
// directory holds no reports.
func ListCollected(dir string) ([]Collected, error) {
	matches, err := filepath.Glob(filepath.Join(dir, LocalPrefix+"*"+LocalSuffix))
	if err != nil {
		return nil, fmt.Errorf("list collected reports: %w", err)
	}

	reports := make([]Collected, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", match, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(match), LocalPrefix), LocalSuffix)
		if name == "" {
			continue
		}
		reports = append(reports, Collected{
			Target:  name,
			Path:    match,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Target < reports[j].Target
	})
	return reports, nil
}
