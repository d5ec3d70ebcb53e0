package sender

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/vodloop/hlsfetch/errors"
	"github.com/vodloop/hlsfetch/pipeline"
	"github.com/vodloop/hlsfetch/store"
)

type SenderHandlersCollection struct {
	VideoDir    string
	Coordinator *pipeline.Coordinator
	Info        *store.DownloadInfo
}

type VideoEntry struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

type JobEntry struct {
	ID     string          `json:"id"`
	Status pipeline.Status `json:"status"`
}

// CatalogEntry is the download-log view of one job id: the metadata of the
// most recent attempt plus how many attempts the log records, across every
// run of the engine.
type CatalogEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Actress     string `json:"actress"`
	HLSURL      string `json:"hls_url"`
	ReleaseDate string `json:"release_date"`
	Attempts    int    `json:"attempts"`
}

type CatalogResponse struct {
	Videos  []VideoEntry   `json:"videos"`
	Jobs    []JobEntry     `json:"jobs"`
	Catalog []CatalogEntry `json:"catalog"`
}

func (c *SenderHandlersCollection) Healthz() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		_, _ = w.Write([]byte("OK"))
	}
}

// Videos lists the finished containers on disk plus the state of every job
// submitted this run.
func (c *SenderHandlersCollection) Videos() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		entries, err := os.ReadDir(c.VideoDir)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read video directory", err)
			return
		}

		response := CatalogResponse{Videos: []VideoEntry{}, Jobs: []JobEntry{}, Catalog: []CatalogEntry{}}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp4") {
				continue
			}
			fi, err := entry.Info()
			if err != nil {
				errors.WriteHTTPInternalServerError(w, "Cannot stat video file", err)
				return
			}
			response.Videos = append(response.Videos, VideoEntry{Name: entry.Name(), SizeBytes: fi.Size()})
		}

		for id, job := range c.Coordinator.Jobs.All() {
			response.Jobs = append(response.Jobs, JobEntry{ID: id, Status: job.Status()})
		}
		sort.Slice(response.Jobs, func(a, b int) bool { return response.Jobs[a].ID < response.Jobs[b].ID })

		records, err := c.Info.Records()
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read download log", err)
			return
		}
		for id, attempts := range records {
			if len(attempts) == 0 {
				continue
			}
			latest := attempts[len(attempts)-1]
			response.Catalog = append(response.Catalog, CatalogEntry{
				ID:          id,
				Name:        latest.Name,
				Actress:     latest.Actress,
				HLSURL:      latest.HLSURL,
				ReleaseDate: latest.ReleaseDate,
				Attempts:    len(attempts),
			})
		}
		sort.Slice(response.Catalog, func(a, b int) bool { return response.Catalog[a].ID < response.Catalog[b].ID })

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to encode catalog", err)
		}
	}
}

// Video serves one finished container. The name is a single path element by
// router construction, but reject traversal outright anyway.
func (c *SenderHandlersCollection) Video() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		name := params.ByName("name")
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			errors.WriteHTTPBadRequest(w, "Invalid video name", nil)
			return
		}

		path := filepath.Join(c.VideoDir, name)
		fi, err := os.Stat(path)
		if err != nil || fi.IsDir() {
			errors.WriteHTTPNotFound(w, "No such video", err)
			return
		}
		http.ServeFile(w, req, path)
	}
}
