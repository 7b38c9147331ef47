package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/facewatch/internal/api"
	"github.com/kalambet/facewatch/internal/config"
	"github.com/kalambet/facewatch/internal/detector"
	"github.com/kalambet/facewatch/internal/face"
	"github.com/kalambet/facewatch/internal/gallery"
)

// --- enroll ---

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a known face through the running server",
	Long: `Enroll a known face through the running server.

The image must contain exactly one face.

Examples:
  facewatch enroll --name "Иван" --image ./ivan.jpg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		image, _ := cmd.Flags().GetString("image")
		if strings.TrimSpace(name) == "" || image == "" {
			return fmt.Errorf("--name and --image are required")
		}

		data, err := os.ReadFile(image)
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/add_face", api.EnrollRequest{
			Name:  name,
			Image: base64.StdEncoding.EncodeToString(data),
		})
		if err != nil {
			return err
		}

		var result api.EnrollResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s", result.Message)
		return nil
	},
}

func init() {
	enrollCmd.Flags().String("name", "", "identity name")
	enrollCmd.Flags().String("image", "", "path to a JPEG or PNG image with one face")
}

// --- gallery ---

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect or bulk-load the face gallery",
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		entries, err := gallery.NewFileStore(cfg.GalleryPath()).Load()
		if err != nil {
			return err
		}
		printGallery(cmd.OutOrStdout(), entryCounts(entries))
		return nil
	},
}

var galleryImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Enroll every image in a directory, named by file stem",
	Long: `Enroll every .jpg, .jpeg and .png file in a directory. The identity is
the file name without extension. Files without exactly one face are skipped.

The server owns the gallery file while it runs, so stop it first or use
"facewatch start --known-faces <dir>".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if serverRunning(cfg) {
			return fmt.Errorf("facewatch is running on port %d; stop it before importing", cfg.Server.Port)
		}

		det := detector.New(cfg.Detector.BaseURL, cfg.Detector.Timeout)
		if err := detector.EnsureReady(cmd.Context(), det, 1, time.Second, feedback); err != nil {
			return err
		}
		g, err := gallery.Open(gallery.NewFileStore(cfg.GalleryPath()), det, quietLogger())
		if err != nil {
			return err
		}

		printStep("Importing %s", args[0])
		res, err := g.ImportDir(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for name, reason := range res.Failed {
			printWarning("skipped %s: %v", name, reason)
		}
		printSuccess("Enrolled %d faces, gallery has %d entries", len(res.Enrolled), g.Len())
		return nil
	},
}

func init() {
	galleryCmd.AddCommand(galleryListCmd)
	galleryCmd.AddCommand(galleryImportCmd)
}

// --- alerts ---

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		identity, _ := cmd.Flags().GetString("identity")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if identity != "" {
			q.Set("identity", identity)
		}
		resp, err := client.get(cmd.Context(), "/alerts?"+q.Encode())
		if err != nil {
			return err
		}

		var result struct {
			Alerts []api.AlertView `json:"alerts"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printAlerts(cmd.OutOrStdout(), result.Alerts)
		return nil
	},
}

var alertsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the in-memory alert log",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/clear_notifications", nil)
		if err != nil {
			return err
		}

		var result struct {
			Cleared int `json:"cleared"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Cleared %d alerts", result.Cleared)
		return nil
	},
}

func init() {
	alertsCmd.Flags().Int("limit", 20, "maximum number of alerts to show")
	alertsCmd.Flags().String("identity", "", "only alerts for this person, read from the journal")
	alertsCmd.AddCommand(alertsClearCmd)
}

func printAlerts(w io.Writer, alerts []api.AlertView) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts.")
		return
	}
	for _, a := range alerts {
		voice := ""
		if a.VoicePath != "" {
			voice = "  ♪"
		}
		fmt.Fprintf(w, "%s  %s  %s  %s  d=%.3f%s\n",
			colorize(colorCyan, fmt.Sprintf("#%d", a.ID)),
			a.Timestamp,
			colorize(colorBold, a.Name),
			a.Location,
			a.Distance,
			voice,
		)
	}
}

type identityCount struct {
	Identity string
	Entries  int
}

func entryCounts(entries []face.Entry) []identityCount {
	idx := make(map[string]int)
	var out []identityCount
	for _, e := range entries {
		i, ok := idx[e.Identity]
		if !ok {
			i = len(out)
			idx[e.Identity] = i
			out = append(out, identityCount{Identity: e.Identity})
		}
		out[i].Entries++
	}
	return out
}

func printGallery(w io.Writer, counts []identityCount) {
	if len(counts) == 0 {
		fmt.Fprintln(w, "Gallery is empty.")
		return
	}
	for _, c := range counts {
		fmt.Fprintf(w, "%s  (%d)\n", colorize(colorBold, c.Identity), c.Entries)
	}
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
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		if err := cfg.Validate(); err != nil {
			printWarning("invalid configuration: %v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret (speech.api_key) outside the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}

func serverRunning(cfg config.Config) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
