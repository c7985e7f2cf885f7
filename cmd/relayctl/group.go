package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"feed_relay/internal/model"
	"feed_relay/internal/registry"
)

func (a *app) groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "group",
		Aliases: []string{"groups"},
		Short:   "Manage delivery groups",
	}
	cmd.AddCommand(a.groupAddCmd(), a.groupApplyCmd(), a.groupListCmd(), a.groupShowCmd(), a.groupRemoveCmd())
	return cmd
}

func (a *app) groupAddCmd() *cobra.Command {
	g := model.NewGroup("")
	var (
		modes       []string
		dest        string
		translateTo string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a group",
		Long: `Create a group that relays the given accounts to the given webhooks.

Examples:
  relayctl group add news -u jane -u bob -w https://discord.com/api/webhooks/1/abc
  relayctl group add art -u painter -w https://... --mode text,embed --media-only
  relayctl group add intl -u lemonde -w https://... --translate-to en-GB`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g.Name = args[0]
			if err := applyModes(&g, modes); err != nil {
				return err
			}
			g.LinkDestination = model.LinkDestination(dest)
			if translateTo != "" {
				g.Translate = true
				g.TranslateTo = translateTo
			}
			g.WhitelistEnabled = len(g.Whitelist)+len(g.WhitelistRegex) > 0
			g.BlacklistEnabled = len(g.Blacklist)+len(g.BlacklistRegex) > 0

			settings, err := a.reg.LoadSettings(cmd.Context())
			if err != nil {
				return err
			}
			id, err := a.reg.AddGroup(cmd.Context(), g, settings)
			if err != nil {
				return fmt.Errorf("add group: %w", err)
			}
			fmt.Fprintf(a.out, "Created group %s (%s)\n", g.Name, id)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&g.Usernames, "user", "u", nil, "source account or feed URL (repeatable)")
	f.StringSliceVarP(&g.Webhooks, "webhook", "w", nil, "Discord webhook URL (repeatable)")
	f.StringSliceVar(&modes, "mode", []string{string(model.ModeEmbed)}, "delivery modes: text, embed, link")
	f.BoolVar(&g.SendRetweets, "retweets", g.SendRetweets, "relay retweets")
	f.BoolVar(&g.SendReplies, "replies", g.SendReplies, "relay replies")
	f.BoolVar(&g.OnlySendIfMedia, "media-only", g.OnlySendIfMedia, "relay only entries with images")
	f.StringVar(&g.EmbedColor, "color", g.EmbedColor, "embed color as #RRGGBB")
	f.StringVar(&dest, "link-destination", string(model.DestinationTwitter), "where mention and hashtag links point: Twitter or Nitter")
	f.StringVar(&translateTo, "translate-to", "", "translate entries to this language with DeepL")
	f.StringArrayVar(&g.Whitelist, "whitelist", nil, "required word (repeatable)")
	f.StringArrayVar(&g.WhitelistRegex, "whitelist-regex", nil, "required pattern (repeatable)")
	f.StringArrayVar(&g.Blacklist, "blacklist", nil, "rejected word (repeatable)")
	f.StringArrayVar(&g.BlacklistRegex, "blacklist-regex", nil, "rejected pattern (repeatable)")
	_ = cmd.MarkFlagRequired("webhook")

	return cmd
}

func (a *app) groupApplyCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply -f <file>",
		Short: "Create or replace a group from a JSON file",
		Long: `Create or replace a group from a JSON document. Attributes missing from
the document take their defaults. A document with a uuid replaces that
group; otherwise the group with the same name is replaced, or a new
group is created. Use "-f -" to read from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			g := model.NewGroup("")
			if err := json.Unmarshal(data, &g); err != nil {
				return fmt.Errorf("decode group: %w", err)
			}

			ctx := cmd.Context()
			settings, err := a.reg.LoadSettings(ctx)
			if err != nil {
				return err
			}

			if g.UUID == "" {
				groups, err := a.reg.ListGroups(ctx)
				if err != nil {
					return err
				}
				for _, existing := range groups {
					if existing.Name == strings.TrimSpace(g.Name) {
						g.UUID = existing.UUID
						break
					}
				}
			}

			if g.UUID == "" {
				id, err := a.reg.AddGroup(ctx, g, settings)
				if err != nil {
					return fmt.Errorf("add group: %w", err)
				}
				fmt.Fprintf(a.out, "Created group %s (%s)\n", g.Name, id)
				return nil
			}
			if err := a.reg.ModifyGroup(ctx, g, settings); err != nil {
				return fmt.Errorf("modify group: %w", err)
			}
			fmt.Fprintf(a.out, "Updated group %s (%s)\n", g.Name, g.UUID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the group")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) groupListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List groups",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			groups, err := a.reg.ListGroups(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.out, groups)
			}
			if len(groups) == 0 {
				fmt.Fprintln(a.out, "No groups.")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tUUID\tACCOUNTS\tWEBHOOKS\tMODES")
			for _, g := range groups {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", g.Name, g.UUID, len(g.Usernames), len(g.Webhooks), modeNames(&g))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func (a *app) groupShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name|uuid>",
		Short: "Print a group as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.reg.Find(cmd.Context(), args[0])
			if err != nil {
				return refError(args[0], err)
			}
			return writeJSON(a.out, g)
		},
	}
}

func (a *app) groupRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name|uuid>",
		Aliases: []string{"rm"},
		Short:   "Delete a group and the feeds only it used",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.reg.Find(cmd.Context(), args[0])
			if err != nil {
				return refError(args[0], err)
			}
			if err := a.reg.RemoveGroup(cmd.Context(), g.UUID); err != nil {
				return fmt.Errorf("remove group: %w", err)
			}
			fmt.Fprintf(a.out, "Removed group %s (%s)\n", g.Name, g.UUID)
			return nil
		},
	}
}

func applyModes(g *model.Group, modes []string) error {
	if len(modes) == 0 {
		return errors.New("at least one delivery mode is required")
	}
	g.SendAsText, g.SendAsEmbed, g.SendAsLink = false, false, false
	for _, m := range modes {
		switch model.Mode(strings.ToLower(strings.TrimSpace(m))) {
		case model.ModeText:
			g.SendAsText = true
		case model.ModeEmbed:
			g.SendAsEmbed = true
		case model.ModeLink:
			g.SendAsLink = true
		default:
			return fmt.Errorf("unknown delivery mode %q", m)
		}
	}
	return nil
}

func modeNames(g *model.Group) string {
	var names []string
	for _, m := range g.Modes() {
		names = append(names, string(m))
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func refError(ref string, err error) error {
	if errors.Is(err, registry.ErrGroupNotFound) {
		return fmt.Errorf("group %q not found", ref)
	}
	return err
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
