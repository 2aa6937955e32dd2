package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gabrielgits/crudrepo/record"
	"github.com/spf13/cobra"
)

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every record of the table",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			docs, err := a.repo.List(cmd.Context())
			if err != nil {
				return err
			}
			return a.printDocuments(cmd.OutOrStdout(), docs)
		}),
	}
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one record by id",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			doc, err := a.repo.GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.printDocuments(cmd.OutOrStdout(), []record.Document{doc})
		}),
	}
}

func (a *app) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <json|->",
		Short: "Create a record; the endpoint assigns the id",
		Example: `  crudrepo -t users create '{"name":"Ada","age":36}'
  cat user.json | crudrepo -t users create -`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			created, err := a.repo.Create(cmd.Context(), doc)
			if err != nil {
				return err
			}
			return a.printDocuments(cmd.OutOrStdout(), []record.Document{created})
		}),
	}
}

func (a *app) updateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <json|->",
		Short: "Update fields of a record",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			doc, err := readDocument(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			updated, err := a.repo.Update(cmd.Context(), id, record.Fields(doc))
			if err != nil {
				return err
			}
			return a.printDocuments(cmd.OutOrStdout(), []record.Document{updated})
		}),
	}
}

func (a *app) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one record",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			n, err := a.repo.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.printCount(cmd.OutOrStdout(), "deleted", n)
		}),
	}
}

func (a *app) deleteAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every record of the table",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			n, err := a.repo.DeleteAll(cmd.Context())
			if err != nil {
				return err
			}
			return a.printCount(cmd.OutOrStdout(), "deleted", n)
		}),
	}
}

func (a *app) findCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "find <field=value>...",
		Short:   "List records matching every field=value pair, in order",
		Example: `  crudrepo -t users find age=36 name=Grace`,
		Args:    cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			filters, err := parseFilters(args)
			if err != nil {
				return err
			}
			docs, err := a.repo.ListWhere(cmd.Context(), filters)
			if err != nil {
				return err
			}
			return a.printDocuments(cmd.OutOrStdout(), docs)
		}),
	}
}

func (a *app) replaceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replace <json|->",
		Short: "Update the record with the document's id, or create it",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			replaced, err := a.repo.Replace(cmd.Context(), doc)
			if err != nil {
				return err
			}
			return a.printDocuments(cmd.OutOrStdout(), []record.Document{replaced})
		}),
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// readDocument decodes arg as a JSON object, or stdin when arg is "-".
func readDocument(stdin io.Reader, arg string) (record.Document, error) {
	var raw []byte
	if arg == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	} else {
		raw = []byte(arg)
	}

	var doc record.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("invalid document: expected a JSON object")
	}
	return doc, nil
}

func parseFilters(args []string) (record.Filters, error) {
	filters := make(record.Filters, 0, len(args))
	for _, arg := range args {
		field, value, ok := strings.Cut(arg, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q, expected field=value", arg)
		}
		filters = append(filters, record.Filter{Field: field, Value: value})
	}
	return filters, nil
}
