package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/studex/studex/internal/config"
	"github.com/studex/studex/internal/remote"
	"github.com/studex/studex/internal/search"
	"github.com/studex/studex/internal/session"
)

// errReported wraps an error the user has already seen as a notification.
type errReported struct{ error }

func (e errReported) Unwrap() error { return e.error }

func readSecret(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// --- login / logout ---

func newLoginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in with email and password. Without --password the password is
read from the first line of standard input.

Examples:
  studex login --email ada@uni.edu
  echo "$PASSWORD" | studex login --email ada@uni.edu`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := readSecret(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			rt.app.Init(ctx)
			if _, err := rt.app.Login(ctx, email, password); err != nil {
				return errReported{err}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (default: read from stdin)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.app.Logout()
			return nil
		},
	}
}

// --- signup ---

func newSignupCmd() *cobra.Command {
	var (
		form      remote.SignupForm
		interests []string
		image     string
		portfolio []string
	)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Long: `Create a StuDex account and sign in.

Examples:
  studex signup --first-name Ada --last-name Okafor --email ada@uni.edu \
    --department "Computer Science" --level 300 --matric CSC/19/001 --username ada
  studex signup ... --skill Freelancer --bio "I build websites" \
    --image ./me.png --portfolio ./cv.pdf --interests "Web Development,Tutoring"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if form.Password == "" {
				p, err := readSecret(cmd.InOrStdin())
				if err != nil {
					return err
				}
				form.Password = p
			}
			for _, i := range interests {
				if i = strings.TrimSpace(i); i != "" {
					form.Interests = append(form.Interests, i)
				}
			}
			if image != "" {
				a, err := remote.LoadAttachment("profileImage", image)
				if err != nil {
					return err
				}
				form.ProfileImage = &a
			}
			for _, p := range portfolio {
				a, err := remote.LoadAttachment("portfolio", p)
				if err != nil {
					return err
				}
				form.Portfolio = append(form.Portfolio, a)
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.app.Signup(cmd.Context(), form); err != nil {
				return errReported{err}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&form.FirstName, "first-name", "", "first name")
	f.StringVar(&form.LastName, "last-name", "", "last name")
	f.StringVarP(&form.Email, "email", "e", "", "email address")
	f.StringVarP(&form.Password, "password", "p", "", "password, at least 6 characters (default: read from stdin)")
	f.StringVar(&form.SchoolName, "department", "", "department")
	f.StringVar(&form.Level, "level", "", "level, e.g. 300")
	f.StringVar(&form.Matric, "matric", "", "matric number")
	f.StringVar(&form.Username, "username", "", "username")
	f.StringVar(&form.SkillCategory, "skill", remote.SkillClient, "Client, Freelancer or Hybrid")
	f.StringVar(&form.Bio, "bio", "", "professional bio (required for Freelancer and Hybrid)")
	f.StringSliceVar(&interests, "interests", nil, "comma-separated interests")
	f.StringVar(&image, "image", "", "profile image file")
	f.StringSliceVar(&portfolio, "portfolio", nil, "portfolio file (repeatable)")
	return cmd
}

// --- whoami ---

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			s := rt.app.Init(cmd.Context())
			out := cmd.OutOrStdout()
			if s.Status != session.Authenticated || s.User == nil {
				fmt.Fprintln(out, "Not signed in.")
				return nil
			}

			u := s.User
			printStatus(out, "Name", "%s", u.DisplayName())
			printStatus(out, "Email", "%s", u.Email)
			if u.Username != "" {
				printStatus(out, "Username", "%s", u.Username)
			}
			if u.SkillCategory != "" {
				printStatus(out, "Role", "%s", u.SkillCategory)
			}
			if u.SchoolName != "" {
				printStatus(out, "Department", "%s (level %s)", u.SchoolName, u.Level)
			}
			if since, ok := rt.signedInSince(); ok {
				printStatus(out, "Signed in since", "%s", since.Local().Format(time.RFC1123))
			}
			if exp, ok := tokenExpiry(s.Token); ok {
				printStatus(out, "Session expires", "%s", exp.Local().Format(time.RFC1123))
			}
			printStatus(out, "Server", "%s", rt.client.BaseURL())
			return nil
		},
	}
}

// tokenExpiry reads the exp claim without verifying the signature; the
// server already vouched for the token during hydration.
func tokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// --- search ---

func newSearchCmd() *cobra.Command {
	var (
		category     string
		interactive  bool
		history      bool
		clearHistory bool
	)
	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Search services offered by students",
		Long: `Search services offered by students.

With --interactive every line read from standard input replaces the query;
searches are sent once typing pauses. A line ":c <category>" switches the
category.

Examples:
  studex search logo
  studex search --category Tutoring
  studex search -i`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			switch {
			case clearHistory:
				if err := rt.store.ClearSearches(); err != nil {
					return err
				}
				printSuccess("Search history cleared")
				return nil
			case history:
				return printHistory(out, rt)
			}

			ctx := cmd.Context()
			rt.app.Init(ctx)
			if interactive {
				return runInteractiveSearch(ctx, rt.app.Search, cmd.InOrStdin(), out, category)
			}

			d := rt.app.Search
			if category != "" {
				d.SetFacet(category)
			}
			d.SetQuery(strings.Join(args, " "))
			d.Flush()

			st, err := waitSettled(ctx, d)
			if err != nil {
				return err
			}
			if st.Err != nil {
				return fmt.Errorf("search failed: %w", st.Err)
			}
			if strings.TrimSpace(st.Query) == "" && st.Facet == rt.cfg.Search.DefaultCategory {
				fmt.Fprintln(out, "Enter a search term or pick a --category.")
				return nil
			}
			printServices(out, st.Items, st.Total)
			return nil
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "category facet (default: all)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read queries from stdin as you type")
	cmd.Flags().BoolVar(&history, "history", false, "show recent searches")
	cmd.Flags().BoolVar(&clearHistory, "clear-history", false, "forget recent searches")
	return cmd
}

func printHistory(out io.Writer, rt *runtime) error {
	entries, err := rt.store.RecentSearches(20)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No searches yet.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %s  %s\n",
			colorize(colorFaint, e.CreatedAt.Local().Format("2006-01-02 15:04")),
			colorize(colorBold, e.Query),
			colorize(colorCyan, e.Category),
		)
	}
	return nil
}

func settled(s search.State) bool {
	return s.Generation > 0 && !s.Pending && !s.Loading
}

// waitSettled blocks until the debouncer has no pending or in-flight search.
func waitSettled(ctx context.Context, d *search.Debouncer) (search.State, error) {
	ch := make(chan search.State)
	done := make(chan struct{})
	defer close(done)
	cancel := d.Subscribe(func(s search.State) {
		select {
		case ch <- s:
		case <-done:
		}
	})
	defer cancel()

	if s := d.Snapshot(); settled(s) || (s.Generation == 0 && !s.Pending) {
		return s, nil
	}
	for {
		select {
		case s := <-ch:
			if settled(s) {
				return s, nil
			}
		case <-ctx.Done():
			return search.State{}, ctx.Err()
		}
	}
}

func runInteractiveSearch(ctx context.Context, d *search.Debouncer, in io.Reader, out io.Writer, category string) error {
	if category != "" {
		d.SetFacet(category)
	}

	var mu sync.Mutex
	var shown uint64
	cancel := d.Subscribe(func(s search.State) {
		if !settled(s) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if s.Generation == shown {
			return
		}
		shown = s.Generation
		renderSearch(out, s)
	})
	defer cancel()

	fmt.Fprintln(out, colorize(colorFaint, `Type to search, ":c <category>" to filter, Ctrl-D to quit.`))
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, ":c "); ok {
			d.SetFacet(strings.TrimSpace(rest))
			continue
		}
		d.SetQuery(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	d.Flush()
	_, err := waitSettled(ctx, d)
	return err
}

func renderSearch(out io.Writer, s search.State) {
	if s.Err != nil {
		printWarning("search failed, showing previous results: %v", s.Err)
		return
	}
	label := s.Query
	if label == "" {
		label = s.Facet
	}
	fmt.Fprintln(out, colorize(colorBold, fmt.Sprintf("── %s (%s)", label, s.Facet)))
	if len(s.Items) == 0 && strings.TrimSpace(s.Query) == "" {
		return
	}
	printServices(out, s.Items, s.Total)
}

// --- jobs ---

func newJobsCmd() *cobra.Command {
	var p remote.JobParams
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List posted jobs (requires sign-in)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			rt.app.Init(ctx)
			page, err := rt.app.Jobs(ctx, p)
			if errors.Is(err, remote.ErrInvalidCredentials) {
				return fmt.Errorf("not signed in; run `studex login` first")
			}
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), page.Jobs, page.Total)
			return nil
		},
	}
	cmd.Flags().StringVarP(&p.Category, "category", "c", "", "category filter")
	cmd.Flags().IntVar(&p.Page, "page", 1, "page number")
	cmd.Flags().IntVarP(&p.Limit, "limit", "l", 10, "jobs per page")
	cmd.AddCommand(newJobsPostCmd())
	return cmd
}

func newJobsPostCmd() *cobra.Command {
	var form remote.JobForm
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a job for freelancers (requires sign-in)",
		Long: `Post a job for freelancers to pick up.

Examples:
  studex jobs post --title "Poster design" --description "A2 event poster" \
    --category "Graphic Design" --budget 5000 --deadline 2026-11-30 --skills Figma`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			rt.app.Init(ctx)
			job, err := rt.app.PostJob(ctx, form)
			if err != nil {
				return errReported{err}
			}
			printJobs(cmd.OutOrStdout(), []remote.Job{job}, 1)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&form.Title, "title", "t", "", "job title")
	f.StringVarP(&form.Description, "description", "d", "", "what needs doing")
	f.StringVarP(&form.Category, "category", "c", "", "category, e.g. Tutoring")
	f.IntVarP(&form.Budget, "budget", "b", 0, "budget in naira")
	f.StringVar(&form.Deadline, "deadline", "", "deadline as YYYY-MM-DD")
	f.StringSliceVar(&form.Skills, "skills", nil, "comma-separated skills")
	return cmd
}

// --- services ---

func newServicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Manage your service listings",
	}
	cmd.AddCommand(newServicesPostCmd())
	return cmd
}

func newServicesPostCmd() *cobra.Command {
	var (
		form   remote.ServiceForm
		images []string
	)
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Offer a service on the marketplace (requires sign-in)",
		Long: `Offer a service on the marketplace.

Examples:
  studex services post --title "Logo design" --description "Three concepts, two revisions" \
    --category "Graphic Design" --price 2500 --skills Figma,Illustrator --image ./sample.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range images {
				a, err := remote.LoadAttachment("portfolioImages", path)
				if err != nil {
					return err
				}
				form.PortfolioImages = append(form.PortfolioImages, a)
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			rt.app.Init(ctx)
			svc, err := rt.app.PostService(ctx, form)
			if err != nil {
				return errReported{err}
			}
			printServices(cmd.OutOrStdout(), []remote.Service{svc}, 1)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&form.Title, "title", "t", "", "service title")
	f.StringVarP(&form.Description, "description", "d", "", "what you offer")
	f.StringVarP(&form.Category, "category", "c", "", "category, e.g. Graphic Design")
	f.Float64VarP(&form.Price, "price", "p", 0, "price in naira")
	f.StringVar(&form.PriceType, "price-type", remote.PriceFixed, "FIXED or NEGOTIABLE")
	f.StringSliceVar(&form.Skills, "skills", nil, "comma-separated skills")
	f.StringSliceVar(&images, "image", nil, "portfolio image file (repeatable)")
	return cmd
}

// --- config ---

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update configuration",
	}

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			keys := config.ShowAll(cfg)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
			}
			return nil
		},
	}

	configSetCmd := &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Set a configuration value",
		Args:      cobra.ExactArgs(2),
		ValidArgs: config.ValidKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			if err := config.SetKey(key, value); err != nil {
				return err
			}

			printSuccess("Set %s = %s", key, value)
			return nil
		},
	}

	configUnsetCmd := &cobra.Command{
		Use:       "unset <key>",
		Short:     "Restore a configuration value to its default",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.ValidKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.UnsetKey(args[0]); err != nil {
				return err
			}
			printSuccess("Unset %s", args[0])
			return nil
		},
	}

	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
	return configCmd
}
