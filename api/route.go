package api

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"haruki-cri-extractor/batch"
	"haruki-cri-extractor/config"
	"haruki-cri-extractor/utils/cricodecs/criacb"
	harukiLogger "haruki-cri-extractor/utils/logger"
	"haruki-cri-extractor/utils/resolver"
	"haruki-cri-extractor/utils/tabledump"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v3"
)

var logger = harukiLogger.NewLogger("HarukiCRIAPI", "INFO", nil)

// extractions tracks background extraction jobs started by /extract.
var extractions sync.WaitGroup

// ExtractPayload is the body of POST /extract.
type ExtractPayload struct {
	Path       string `json:"path"`
	IncludeAWB *bool  `json:"include_awb,omitempty"`
	OutputDir  string `json:"output_dir,omitempty"`
}

// Wait blocks until every extraction started through the API has finished.
func Wait() {
	extractions.Wait()
}

// RegisterRoutes registers all API routes
func RegisterRoutes(app *fiber.App) {
	app.Use(authorize)
	app.Post("/inspect", inspectHandler)
	app.Post("/dump", dumpHandler)
	app.Post("/extract", extractHandler)
}

func authorize(c fiber.Ctx) error {
	if !config.Cfg.Backend.EnableAuthorization {
		return c.Next()
	}
	if prefix := config.Cfg.Backend.AcceptUserAgentPrefix; prefix != "" {
		if !strings.HasPrefix(c.Get("User-Agent"), prefix) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Invalid User-Agent",
			})
		}
	}
	if token := config.Cfg.Backend.AcceptAuthorizationToken; token != "" {
		if c.Get("Authorization") != "Bearer "+token {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Invalid authorization token",
			})
		}
	}
	return c.Next()
}

// errorStatus maps parse and resolve failures onto HTTP statuses.
func errorStatus(err error) int {
	var missing *criacb.MissingArchiveError
	var mismatch *criacb.TypeMismatchError
	switch {
	case errors.Is(err, criacb.ErrFormat), errors.As(err, &mismatch):
		return fiber.StatusBadRequest
	case errors.Is(err, criacb.ErrMissingResolver), errors.As(err, &missing):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func failure(c fiber.Ctx, message string, err error) error {
	return c.Status(errorStatus(err)).JSON(fiber.Map{
		"message": message,
		"error":   err.Error(),
	})
}

// inspectHandler summarises an uploaded ACB or AWB without writing anything.
func inspectHandler(c fiber.Ctx) error {
	body := c.Body()
	switch {
	case bytes.HasPrefix(body, []byte("@UTF")):
		acb, err := openACB(c.Context(), body)
		if err != nil {
			return failure(c, "Failed to open ACB", err)
		}
		return c.JSON(acbSummary(acb))
	case bytes.HasPrefix(body, []byte("AFS2")):
		archive, err := criacb.ParseAFSArchive(body)
		if err != nil {
			return failure(c, "Failed to parse AWB", err)
		}
		summary := archiveSummary(archive)
		summary["type"] = "awb"
		return c.JSON(summary)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Body is neither an ACB nor an AWB file",
		})
	}
}

func openACB(ctx context.Context, data []byte) (*criacb.ACB, error) {
	chain, err := resolver.New(config.Cfg.Resolvers, config.Cfg.Proxy)
	if err != nil {
		return nil, err
	}
	var r criacb.Resolver
	if len(chain) > 0 {
		r = chain
	}
	return criacb.OpenACBWithResolver(ctx, data, r)
}

func archiveSummary(archive *criacb.AFSArchive) fiber.Map {
	files := make([]fiber.Map, 0, len(archive.Assets))
	for _, asset := range archive.Assets {
		files = append(files, fiber.Map{
			"index":  asset.Index,
			"id":     asset.ID,
			"size":   len(asset.Data),
			"blake3": tabledump.Digest(asset.Data),
		})
	}
	return fiber.Map{
		"version":     archive.Version,
		"offset_size": archive.OffsetSize,
		"id_stride":   archive.IDStride,
		"alignment":   archive.Alignment,
		"subkey":      archive.Subkey,
		"files":       files,
	}
}

func acbSummary(acb *criacb.ACB) fiber.Map {
	var tracks *criacb.TrackList
	if tl, err := criacb.NewTrackList(acb); err == nil {
		tracks = tl
	}

	waveforms := make([]fiber.Map, 0, len(acb.Waveforms))
	for _, w := range acb.Waveforms {
		entry := fiber.Map{
			"index":       w.Index,
			"streaming":   w.Streaming,
			"encode_type": w.EncodeType,
		}
		if w.Streaming {
			entry["port"] = w.StreamPort
			entry["awb_id"] = w.StreamAWBID
		} else {
			entry["awb_id"] = w.MemoryAWBID
		}
		_, _, ok := acb.Lookup(w)
		entry["resolved"] = ok
		if tracks != nil {
			if track, ok := tracks.ForWaveform(w.Index); ok {
				entry["cue"] = track.Name
			}
		}
		waveforms = append(waveforms, entry)
	}

	streams := make([]fiber.Map, 0, len(acb.StreamAWBNames))
	for port, name := range acb.StreamAWBNames {
		stream := fiber.Map{"port": port, "name": name, "found": false}
		if port < len(acb.StreamAWBs) && acb.StreamAWBs[port] != nil {
			stream = archiveSummary(acb.StreamAWBs[port])
			stream["port"] = port
			stream["name"] = name
			stream["found"] = true
		}
		streams = append(streams, stream)
	}

	summary := fiber.Map{
		"type":      "acb",
		"name":      acb.Table.Name,
		"columns":   acb.Table.ColumnNames(),
		"streams":   streams,
		"waveforms": waveforms,
	}
	if acb.MemoryAWB != nil {
		summary["memory"] = archiveSummary(acb.MemoryAWB)
	}
	return summary
}

// dumpHandler renders an uploaded UTF table, nested tables included.
func dumpHandler(c fiber.Ctx) error {
	table, err := criacb.ParseUTFTable(c.Body())
	if err != nil {
		return failure(c, "Failed to parse UTF table", err)
	}
	switch strings.ToLower(c.Query("format", "json")) {
	case "json":
		data, err := tabledump.MarshalJSON(table)
		if err != nil {
			return failure(c, "Failed to render table", err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(data)
	case "msgpack":
		data, err := tabledump.MarshalMsgpack(table)
		if err != nil {
			return failure(c, "Failed to render table", err)
		}
		c.Set(fiber.HeaderContentType, "application/msgpack")
		return c.Send(data)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Unsupported format",
			"format":  c.Query("format"),
		})
	}
}

// extractHandler starts a batch export of a server-side path in the
// background.
func extractHandler(c fiber.Ctx) error {
	var payload ExtractPayload
	if err := sonic.Unmarshal(c.Body(), &payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request payload",
			"error":   err.Error(),
		})
	}
	if payload.Path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "path is required",
		})
	}
	if _, err := os.Stat(payload.Path); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "path not found",
			"path":    payload.Path,
		})
	}

	cfg := config.Cfg
	if payload.IncludeAWB != nil {
		cfg.Extract.IncludeAWB = *payload.IncludeAWB
	}
	if payload.OutputDir != "" {
		cfg.Extract.OutputDir = payload.OutputDir
	}
	runner, err := batch.NewRunner(cfg)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Invalid extractor configuration",
			"error":   err.Error(),
		})
	}

	runExtraction(runner, payload.Path)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Extraction started",
		"path":    payload.Path,
	})
}

// runExtraction runs the batch export in a goroutine
func runExtraction(runner *batch.Runner, path string) {
	extractions.Add(1)
	go func() {
		defer extractions.Done()
		result, err := runner.Run(context.Background(), path)
		if err != nil {
			logger.Errorf("Extraction of %s failed: %v", path, err)
			return
		}
		logger.Infof("Extraction of %s finished: %d files exported", path, len(result.Manifests))
	}()
}
