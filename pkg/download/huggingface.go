package download

import (
	"fmt"
	"net/url"
	"strings"
)

const defaultHFBaseURL = "https://huggingface.co"

// HuggingFaceURL builds the resolve URL for a file within a HuggingFace
// repository, the external collaborator named in spec §6.4. revision
// defaults to "main" when empty.
func HuggingFaceURL(repo, file, revision string) string {
	if revision == "" {
		revision = "main"
	}
	file = strings.TrimPrefix(file, "/")
	segments := strings.Split(file, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", defaultHFBaseURL, repo, revision, strings.Join(segments, "/"))
}
