// Package handlers provides the HTTP handlers for the submitter server.
//
// Each handler lives in its own file and implements http.Handler. Handlers
// reach server dependencies through narrow interfaces, avoiding circular
// imports.
package handlers

import (
	"github.com/micado-scale/submitter/config"
	"github.com/micado-scale/submitter/server/runner"
	"github.com/micado-scale/submitter/submission"
	"github.com/micado-scale/submitter/template"
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// Reloader can reload its configuration.
type Reloader interface {
	Reload() error
}

// Deployer starts lifecycle runs for submissions.
type Deployer interface {
	Deploy(sub *submission.Context) error
	Update(sub *submission.Context) error
	Undeploy(sub *submission.Context) error
}

// RunStatusProvider reports in-flight runs.
type RunStatusProvider interface {
	Status(submissionID string) (runner.RunStatus, bool)
}

// HistoryProvider provides access to completed runs.
type HistoryProvider interface {
	History() []runner.RunStatus
}

// TemplateValidator checks that every entity of a template resolves to a
// registered adaptor. Returns the number of entities per adaptor.
type TemplateValidator interface {
	ValidateTemplate(tpl *template.Template) (map[string]int, error)
}
