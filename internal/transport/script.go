package transport

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

//go:embed scripts/*.tmpl scripts/*.signature
var scriptFS embed.FS

// ErrUnsupportedOS means no script template variant exists for the
// requesting client OS.
var ErrUnsupportedOS = errors.New("unsupported client os")

// ErrScriptIntegrity means a template's content does not match its shipped
// signature.
var ErrScriptIntegrity = errors.New("script signature mismatch")

// ScriptParams are substituted into the script template. Password is the
// only secret; it lands in a placeholder and the rendered artifact is
// encrypted before it leaves the broker.
type ScriptParams struct {
	Address       string
	Port          int
	Username      string
	Password      string
	Domain        string
	InstanceID    string
	ReportingHost string
}

// LoadScript returns the template text and signature for the OS variant of
// the given base name, verifying integrity against the shipped signature.
func LoadScript(baseName, clientOS string) (string, string, error) {
	name := fmt.Sprintf("scripts/%s_%s.tmpl", baseName, strings.ToLower(clientOS))
	raw, err := scriptFS.ReadFile(name)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s/%s", ErrUnsupportedOS, baseName, clientOS)
	}
	sigRaw, err := scriptFS.ReadFile(name + ".signature")
	if err != nil {
		return "", "", fmt.Errorf("missing signature for %s: %w", name, err)
	}
	signature := strings.TrimSpace(string(sigRaw))
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != signature {
		return "", "", fmt.Errorf("%w: %s", ErrScriptIntegrity, name)
	}
	return string(raw), signature, nil
}

// RenderScript loads the OS variant and substitutes params into it.
func RenderScript(baseName, clientOS string, params ScriptParams) (string, error) {
	text, _, err := LoadScript(baseName, clientOS)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(baseName).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse script template %s: %w", baseName, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render script %s: %w", baseName, err)
	}
	return buf.String(), nil
}
