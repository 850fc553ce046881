package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/polisai/policyos/pkg/domain"
	"github.com/polisai/policyos/pkg/schema"
)

// newValidateCmd creates the `policyos validate` command.
func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file|dir>...",
		Short: "Validate policy templates against the registered schemas",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}
	cmd.Flags().BoolP("watch", "w", false, "Re-validate when the files change")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	_, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	schemas, err := schema.NewRegistry()
	if err != nil {
		return err
	}

	if failed := validatePaths(cmd, schemas, args); failed > 0 {
		if watch, _ := cmd.Flags().GetBool("watch"); !watch {
			return fmt.Errorf("%d template(s) failed validation", failed)
		}
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		return watchPaths(cmd, logger, schemas, args)
	}
	return nil
}

// validatePaths validates every template under the given paths and returns
// the number of failures.
func validatePaths(cmd *cobra.Command, schemas *schema.Registry, paths []string) int {
	failed := 0
	for _, path := range paths {
		for _, file := range collectTemplates(path) {
			if err := validateTemplate(schemas, file); err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s\n", file)
				printValidationError(cmd, err)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "OK   %s\n", file)
			}
		}
	}
	return failed
}

func printValidationError(cmd *cobra.Command, err error) {
	var schemaErr *domain.SchemaError
	if errors.As(err, &schemaErr) {
		for _, issue := range schemaErr.Issues {
			fmt.Fprintf(cmd.OutOrStdout(), "     %s: %s\n", issue.Path, issue.Message)
		}
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "     %v\n", err)
}

// collectTemplates expands a path into the template files beneath it.
func collectTemplates(path string) []string {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return []string{path}
	}

	var files []string
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if isTemplateFile(p) {
			files = append(files, p)
		}
		return nil
	})
	return files
}

func isTemplateFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func validateTemplate(schemas *schema.Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	_, err = schemas.ValidateSpec(payload)
	return err
}

// watchPaths blocks, re-validating the given paths whenever files beneath
// them change.
func watchPaths(cmd *cobra.Command, logger *slog.Logger, schemas *schema.Registry, paths []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, path := range paths {
		dir := path
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			dir = filepath.Dir(path)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	logger.Info("watching for template changes", "paths", paths)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !isTemplateFile(event.Name) {
				continue
			}
			logger.Info("template changed", "file", event.Name)
			validatePaths(cmd, schemas, paths)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)
		case <-cmd.Context().Done():
			return nil
		}
	}
}
