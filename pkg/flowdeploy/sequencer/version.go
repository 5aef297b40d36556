package sequencer

import (
	"strconv"
	"strings"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
)

// PickVersion chooses the version to deploy from a listing. When every
// listed version is an integer the highest wins; otherwise (commit ids,
// tags) the last listed one does. Entries without a version are ignored.
// An empty result means the engine should pick.
func PickVersion(versions []canvas.VersionMetadata) string {
	var last, best string
	bestN := int64(-1)
	numeric := true
	for _, v := range versions {
		tok := strings.TrimSpace(v.Version)
		if tok == "" {
			continue
		}
		last = tok
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			numeric = false
			continue
		}
		if n > bestN {
			bestN, best = n, tok
		}
	}
	if numeric && best != "" {
		return best
	}
	return last
}
