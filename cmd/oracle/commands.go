package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/oracle/internal/api"
	"github.com/kalambet/oracle/internal/config"
	"github.com/kalambet/oracle/internal/ingest"
	"github.com/kalambet/oracle/internal/learning"
	"github.com/kalambet/oracle/internal/oracle"
	"github.com/kalambet/oracle/internal/retrieval"
	"github.com/kalambet/oracle/internal/storage"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and configuration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return showStatus(cmd.Context(), c, cmd.OutOrStdout(), cfg)
	},
}

func showStatus(ctx context.Context, c *apiClient, w io.Writer, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	resp, err := c.get(ctx, "/health")
	switch {
	case err != nil:
		printStatus(w, "Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		if err := decodeJSON(resp, &health); err != nil {
			return err
		}
		printStatus(w, "Server", "running on %s (version %s)", cfg.Addr(), health.Version)
	default:
		resp.Body.Close()
		printStatus(w, "Server", "degraded (HTTP %d)", resp.StatusCode)
	}

	printStatus(w, "Provider", "%s", cfg.Engine.Provider)
	printStatus(w, "Chat model", "%s", cfg.Engine.ChatModel)
	if len(cfg.Engine.CandidateModels) > 0 {
		printStatus(w, "Candidates", "%s", strings.Join(cfg.Engine.CandidateModels, ", "))
	}
	printStatus(w, "Embed model", "%s (%d dims)", cfg.Engine.EmbedModel, cfg.Engine.EmbedDimensions)
	printStatus(w, "Vectors", "%s", cfg.Storage.VectorBackend)
	printStatus(w, "Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over indexed content and past interactions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		role, _ := cmd.Flags().GetString("role")
		tables, _ := cmd.Flags().GetStringSlice("table")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		req := api.SearchRequest{Query: strings.Join(args, " "), K: k, Role: role, Tables: tables}
		return runSearch(cmd.Context(), c, cmd.OutOrStdout(), req)
	},
}

func init() {
	searchCmd.Flags().Int("k", retrieval.DefaultK, "number of results")
	searchCmd.Flags().String("role", "", "only show content visible to this role")
	searchCmd.Flags().StringSlice("table", nil, "restrict to tables ("+retrieval.TableContent+", "+retrieval.TableInteractions+")")
}

func runSearch(ctx context.Context, c *apiClient, w io.Writer, req api.SearchRequest) error {
	resp, err := c.post(ctx, "/search", req)
	if err != nil {
		return err
	}
	var out api.SearchResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	if len(out.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}
	for i, h := range out.Results {
		title := h.Title
		if title == "" {
			title = h.RefTable + "/" + h.RefID
		}
		fmt.Fprintf(w, "\n%s %s [similarity: %.3f]\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), title, retrieval.Similarity(h.Distance))
		fmt.Fprintf(w, "   %s\n", h.Snippet)
	}
	return nil
}

// --- suggest ---

var suggestCmd = &cobra.Command{
	Use:   "suggest <description>",
	Short: "Ask for next-step suggestions",
	Long: `Ask for next-step suggestions for a team, project or person.

Examples:
  oracle suggest --actor u1 "We need someone who knows embedded firmware"
  oracle suggest --actor u1 --subject team-7 --title "Robotics" --json "Looking for a mentor"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		subject, _ := cmd.Flags().GetString("subject")
		title, _ := cmd.Flags().GetString("title")
		role, _ := cmd.Flags().GetString("role")
		k, _ := cmd.Flags().GetInt("k")
		asJSON, _ := cmd.Flags().GetBool("json")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		req := oracle.Request{
			ActorID:       actor,
			Subject:       oracle.Subject{ID: subject, Title: title, Description: strings.Join(args, " ")},
			EvidenceLimit: k,
			Role:          role,
		}
		return runSuggest(cmd.Context(), c, cmd.OutOrStdout(), req, asJSON)
	},
}

func init() {
	suggestCmd.Flags().String("actor", os.Getenv("USER"), "id of the person asking")
	suggestCmd.Flags().String("subject", "", "team or project id for graph context")
	suggestCmd.Flags().String("title", "", "subject title")
	suggestCmd.Flags().String("role", "", "restrict evidence to this role")
	suggestCmd.Flags().Int("k", 0, "evidence snippets to retrieve (0 uses the server default)")
	suggestCmd.Flags().Bool("json", false, "print the raw response")
}

func runSuggest(ctx context.Context, c *apiClient, w io.Writer, req oracle.Request, asJSON bool) error {
	resp, err := c.post(ctx, "/suggest", req)
	if err != nil {
		return err
	}
	var out oracle.Response
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	if asJSON {
		return printJSON(w, out)
	}

	if len(out.Suggestions) == 0 {
		fmt.Fprintln(w, "No suggestions.")
	}
	for i, s := range out.Suggestions {
		target := s.TargetName
		if target == "" {
			target = s.RoleOrSkill
		}
		fmt.Fprintf(w, "%s %s %s [confidence: %.2f]\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), colorize(colorCyan, s.Kind), target, s.Confidence)
		if s.Rationale != "" {
			fmt.Fprintf(w, "   %s\n", s.Rationale)
		}
	}
	if len(out.Actions) > 0 {
		fmt.Fprintln(w, colorize(colorBold, "\nNext steps:"))
		for _, a := range out.Actions {
			fmt.Fprintf(w, "  [%s] %s\n", a.Priority, a.Message)
		}
	}
	if out.Meta.InteractionID != "" {
		fmt.Fprintf(w, "\ninteraction %s (rate it with: oracle feedback %s <1-5>)\n", out.Meta.InteractionID, out.Meta.InteractionID)
	}
	return nil
}

// --- embed ---

var embedCmd = &cobra.Command{
	Use:   "embed <table> <id> <text>",
	Short: "Embed text and upsert it into the vector store",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		roles, _ := cmd.Flags().GetStringSlice("role")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		req := api.EmbedRequest{Table: args[0], ID: args[1], Text: strings.Join(args[2:], " "), Title: title, RoleVisibility: roles}
		resp, err := c.post(cmd.Context(), "/embed", req)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Embedded %s/%s", req.Table, req.ID)
		return nil
	},
}

func init() {
	embedCmd.Flags().String("title", "", "title shown with search hits")
	embedCmd.Flags().StringSlice("role", nil, "roles allowed to see this record (default: everyone)")
}

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a document for indexing",
	Long: `Queue a document for indexing.

Examples:
  oracle add --text "I can mentor on embedded C" --title "Mentor bio"
  oracle add --file ./handbook.pdf --role mentor`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		source, _ := cmd.Flags().GetString("source-type")
		roles, _ := cmd.Flags().GetStringSlice("role")

		req, err := contentRequest(text, file)
		if err != nil {
			return err
		}
		if title != "" {
			req.Title = title
		}
		req.SourceType = source
		req.RoleVisibility = roles

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		out, err := submitContent(cmd.Context(), c, req)
		if err != nil {
			return err
		}
		printSuccess("Queued %s (job %s)", out.ID, out.JobID)
		return nil
	},
}

func init() {
	addCmd.Flags().String("text", "", "text content")
	addCmd.Flags().String("file", "", "file to upload (text, markdown, HTML or PDF)")
	addCmd.Flags().String("title", "", "document title")
	addCmd.Flags().String("source-type", "", "free-form source label")
	addCmd.Flags().StringSlice("role", nil, "roles allowed to see this document (default: everyone)")
}

// contentRequest builds an upload from either inline text or a file. Files
// are sent base64-encoded with a content type guessed from the extension.
func contentRequest(text, file string) (api.ContentRequest, error) {
	switch {
	case text != "" && file != "":
		return api.ContentRequest{}, fmt.Errorf("use only one of --text or --file")
	case text != "":
		return api.ContentRequest{Text: text}, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return api.ContentRequest{}, fmt.Errorf("reading file: %w", err)
		}
		return api.ContentRequest{
			Title:       filepath.Base(file),
			Data:        base64.StdEncoding.EncodeToString(data),
			ContentType: contentTypeFor(file),
		}, nil
	default:
		return api.ContentRequest{}, fmt.Errorf("one of --text or --file is required")
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return ingest.TypeMarkdown
	case ".pdf":
		return ingest.TypePDF
	case ".html", ".htm":
		return ingest.TypeHTML
	case ".txt", "":
		return ingest.TypePlain
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return ingest.TypePlain
}

func submitContent(ctx context.Context, c *apiClient, req api.ContentRequest) (api.ContentResponse, error) {
	var out api.ContentResponse
	resp, err := c.post(ctx, "/content", req)
	if err != nil {
		return out, err
	}
	err = decodeJSON(resp, &out)
	return out, err
}

// --- learn ---

var learnCmd = &cobra.Command{
	Use:       "learn <action>",
	Short:     "Run a learning loop action",
	Long:      "Run a learning loop action: " + strings.Join(actionList(), ", ") + ".",
	Args:      cobra.ExactArgs(1),
	ValidArgs: actionList(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := learning.ParseAction(args[0]); err != nil {
			return err
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runLearn(cmd.Context(), c, cmd.OutOrStdout(), args[0])
	},
}

func actionList() []string {
	out := make([]string, len(learning.Actions))
	for i, a := range learning.Actions {
		out[i] = string(a)
	}
	return out
}

func runLearn(ctx context.Context, c *apiClient, w io.Writer, action string) error {
	resp, err := c.post(ctx, "/learning-loop", api.LearningRequest{Action: action})
	if err != nil {
		return err
	}
	var out learning.Result
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	return printJSON(w, out)
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <interaction-id> <satisfaction>",
	Short: "Rate a past suggestion from 1 to 5",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		satisfaction, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("satisfaction must be a number from 1 to 5")
		}
		req := api.FeedbackRequest{Satisfaction: satisfaction}
		if cmd.Flags().Changed("helpful") {
			helpful, _ := cmd.Flags().GetBool("helpful")
			req.Helpful = &helpful
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := sendFeedback(cmd.Context(), c, args[0], req); err != nil {
			return err
		}
		printSuccess("Recorded feedback for %s", args[0])
		return nil
	},
}

func init() {
	feedbackCmd.Flags().Bool("helpful", false, "mark the suggestion as helpful (or --helpful=false)")
}

func sendFeedback(ctx context.Context, c *apiClient, id string, req api.FeedbackRequest) error {
	resp, err := c.post(ctx, "/interactions/"+url.PathEscape(id)+"/feedback", req)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

// --- team ---

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Manage team membership used for graph context",
}

var teamAddCmd = &cobra.Command{
	Use:   "add <team-id> <person-id>",
	Short: "Add or update a team member",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		m := storage.TeamMember{TeamID: args[0], PersonID: args[1], Name: name, Role: role, JoinedAt: time.Now().UTC()}
		if err := store.UpsertTeamMember(cmd.Context(), m); err != nil {
			return err
		}
		printSuccess("Added %s to %s", args[1], args[0])
		return nil
	},
}

var teamListCmd = &cobra.Command{
	Use:   "list <team-id>",
	Short: "List team members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return listTeam(cmd.Context(), store, cmd.OutOrStdout(), args[0])
	},
}

func init() {
	teamAddCmd.Flags().String("name", "", "display name")
	teamAddCmd.Flags().String("role", "", "role on the team")
	teamCmd.AddCommand(teamAddCmd, teamListCmd)
}

func openStore() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Storage.DataDir)
}

func listTeam(ctx context.Context, store *storage.Store, w io.Writer, teamID string) error {
	members, err := store.TeamMembers(ctx, teamID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		printWarning("team %s has no members", teamID)
		return nil
	}
	for _, m := range members {
		fmt.Fprintf(w, "%s  %s  %s\n", colorize(colorCyan, m.PersonID), m.Name, m.Role)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
