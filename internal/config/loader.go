package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a sidecar manifest from the provided path.
func Load(path string) (*Manifest, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return parse(raw, filepath.Dir(absPath), absPath)
}

// Parse decodes a manifest from raw YAML, resolving relative paths against
// baseDir.
func Parse(raw []byte, baseDir string) (*Manifest, error) {
	return parse(raw, baseDir, "manifest")
}

func parse(raw []byte, baseDir, source string) (*Manifest, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", source, err)
	}
	if err := validateAgainstSchema(generic); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	var doc Manifest
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", source, err)
	}

	doc.Sidecar.ResolvedWorkdir = resolveWorkdir(baseDir, os.ExpandEnv(doc.Sidecar.Workdir))

	var inlineEnv map[string]string
	if len(doc.Sidecar.Env) > 0 {
		inlineEnv = make(map[string]string, len(doc.Sidecar.Env))
		for k, v := range doc.Sidecar.Env {
			inlineEnv[k] = os.ExpandEnv(v)
		}
	}

	var fileEnv map[string]string
	if doc.Sidecar.EnvFromFile != "" {
		expanded := os.ExpandEnv(doc.Sidecar.EnvFromFile)
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Clean(filepath.Join(doc.Sidecar.ResolvedWorkdir, expanded))
		}
		doc.Sidecar.EnvFromFile = expanded

		env, err := loadEnvFile(expanded)
		if err != nil {
			return nil, fmt.Errorf("%s: sidecar.envFromFile: %w", source, err)
		}
		fileEnv = env
	}
	doc.Sidecar.Env = mergeEnv(fileEnv, inlineEnv)

	if err := doc.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &doc, nil
}

// mergeEnv layers inline variables on top of file-sourced ones.
func mergeEnv(fileEnv, inlineEnv map[string]string) map[string]string {
	if len(fileEnv) == 0 && len(inlineEnv) == 0 {
		return nil
	}
	merged := make(map[string]string, len(fileEnv)+len(inlineEnv))
	for k, v := range fileEnv {
		merged[k] = v
	}
	for k, v := range inlineEnv {
		merged[k] = v
	}
	return merged
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return base
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if strings.HasPrefix(raw, "export ") {
			raw = strings.TrimSpace(raw[len("export "):])
		}
		sep := strings.IndexRune(raw, '=')
		if sep <= 0 {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		key := strings.TrimSpace(raw[:sep])
		if key == "" {
			return nil, fmt.Errorf("load env file %q: invalid key on line %d", path, lineNo)
		}
		value := strings.TrimSpace(raw[sep+1:])
		if strings.HasPrefix(value, "\"") {
			if len(value) < 2 || value[len(value)-1] != '"' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("load env file %q: parse value for %s on line %d: %w", path, key, lineNo, err)
			}
			value = unquoted
		} else if strings.HasPrefix(value, "'") {
			if len(value) < 2 || value[len(value)-1] != '\'' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			value = value[1 : len(value)-1]
		} else if comment := strings.IndexRune(value, '#'); comment >= 0 {
			value = strings.TrimSpace(value[:comment])
		}
		values[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}
