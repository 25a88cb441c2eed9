// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sinks

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/types"
)

// ZipConfig configures the zip bundle sink.
type ZipConfig struct {
	Path string
	// Consume lists the artifact tokens to bundle, e.g. "@report" or
	// "file/csv". Each resolves in mode "all".
	Consume       []string
	SecurityLevel string
}

// ZipSink bundles upstream file artifacts into one archive with a
// manifest.json describing each entry. Artifacts without a file path are
// skipped with a warning.
type ZipSink struct {
	cfg      ZipConfig
	handoff  map[string][]*artifacts.Artifact
	artifact *artifacts.Artifact
}

func NewZipSink(cfg ZipConfig) (*ZipSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("zip sink requires a path")
	}
	if len(cfg.Consume) == 0 {
		return nil, fmt.Errorf("zip sink requires at least one consume token")
	}
	return &ZipSink{cfg: cfg}, nil
}

func (s *ZipSink) Name() string { return "zip_bundle" }

func (s *ZipSink) Produces() []artifacts.Descriptor {
	return []artifacts.Descriptor{{
		Name:          "bundle",
		Type:          "file/zip",
		Persist:       true,
		SecurityLevel: s.cfg.SecurityLevel,
	}}
}

func (s *ZipSink) Consumes() []artifacts.Request {
	requests := make([]artifacts.Request, 0, len(s.cfg.Consume))
	for _, token := range s.cfg.Consume {
		requests = append(requests, artifacts.Request{Token: token, Mode: artifacts.ModeAll})
	}
	return requests
}

func (s *ZipSink) PrepareArtifacts(handoff map[string][]*artifacts.Artifact) {
	s.handoff = handoff
}

type manifestEntry struct {
	Name          string `json:"name"`
	Source        string `json:"source"`
	Type          string `json:"type"`
	SecurityLevel string `json:"security_level,omitempty"`
}

func (s *ZipSink) Write(payload *types.Payload, metadata types.Metadata) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create sink directory: %w", err)
	}
	out, err := os.Create(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to create zip output: %w", err)
	}
	defer func() { _ = out.Close() }()

	writer := zip.NewWriter(out)
	writer.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})

	var manifest []manifestEntry
	for _, token := range s.cfg.Consume {
		for _, artifact := range s.handoff[token] {
			if artifact.Path == "" {
				log.Warn("zip sink skipping artifact without a file path",
					zap.String("artifact", artifact.ID))
				continue
			}
			name := filepath.Base(artifact.Path)
			if err := addFile(writer, name, artifact.Path); err != nil {
				return err
			}
			manifest = append(manifest, manifestEntry{
				Name:          name,
				Source:        artifact.ID,
				Type:          artifact.Type,
				SecurityLevel: artifact.SecurityLevel,
			})
		}
	}

	entry, err := writer.Create("manifest.json")
	if err != nil {
		return fmt.Errorf("failed to create manifest entry: %w", err)
	}
	encoder := json.NewEncoder(entry)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(manifest); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize zip output: %w", err)
	}

	s.artifact = &artifacts.Artifact{
		Type:          "file/zip",
		Path:          s.cfg.Path,
		Persist:       true,
		Metadata:      map[string]interface{}{"entries": len(manifest)},
		SecurityLevel: s.cfg.SecurityLevel,
	}
	return nil
}

func addFile(writer *zip.Writer, name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open bundled file: %w", err)
	}
	defer func() { _ = file.Close() }()

	entry, err := writer.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create zip entry %q: %w", name, err)
	}
	if _, err := io.Copy(entry, file); err != nil {
		return fmt.Errorf("failed to write zip entry %q: %w", name, err)
	}
	return nil
}

func (s *ZipSink) CollectArtifacts() map[string]*artifacts.Artifact {
	if s.artifact == nil {
		return nil
	}
	return map[string]*artifacts.Artifact{"bundle": s.artifact}
}
