package packer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goopsie/dbconverter/walker"
)

// SegmentPath returns the name of split segment i (1 based):
// "out/res.db" becomes "out/res_00001.db".
func SegmentPath(destination string, i int) string {
	ext := filepath.Ext(destination)
	return strings.TrimSuffix(destination, ext) + fmt.Sprintf("_%05d", i) + ext
}

// Partition groups files, in order, so that each group's total size stays
// within budget. A group is closed as soon as its total reaches the budget,
// and before a file that would push it over; a file larger than the budget
// therefore ends up alone in its group. No group is empty.
func Partition(files []walker.Entry, budget int64) [][]walker.Entry {
	var (
		groups  [][]walker.Entry
		current []walker.Entry
		total   int64
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		groups = append(groups, current)
		current = nil
		total = 0
	}
	for _, f := range files {
		if len(current) > 0 && total+f.Size > budget {
			flush()
		}
		current = append(current, f)
		total += f.Size
		if total >= budget {
			flush()
		}
	}
	flush()
	return groups
}

// packSplit walks the source once and packs each group through the file
// list path. Segments are written one after the other.
func (p *Packer) packSplit(r SplitRequest) ([]Result, error) {
	if err := checkSource(r.Source); err != nil {
		return nil, err
	}
	if err := checkTarget(r.Target); err != nil {
		return nil, err
	}
	if r.MaxSize <= 0 {
		return nil, fmt.Errorf("%w: max size must be positive, got %d", ErrConfiguration, r.MaxSize)
	}

	tree, err := walker.Walk(r.Source, walker.Options{
		SkipFolders: r.SkipFolders,
		Exclude:     r.Exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", r.Source, err)
	}

	groups := Partition(tree.Files, r.MaxSize)
	p.logger.Info("splitting archive", "files", len(tree.Files), "segments", len(groups), "max_size", r.MaxSize)

	results := make([]Result, 0, len(groups))
	for i, group := range groups {
		files := make([]string, len(group))
		for j, e := range group {
			files[j] = e.FullPath
		}
		seg := FilesRequest{Target: r.Target, Files: files, Root: r.Source}
		seg.Destination = SegmentPath(r.Destination, i+1)

		res, err := p.packFiles(seg)
		if err != nil {
			return results, fmt.Errorf("segment %d: %w", i+1, err)
		}
		results = append(results, res)
	}
	return results, nil
}
