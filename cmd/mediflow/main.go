package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mediflow/mediflow/internal/api"
	"github.com/mediflow/mediflow/internal/config"
	"github.com/mediflow/mediflow/internal/mockapi"
	"github.com/mediflow/mediflow/internal/pharmacy"
	"github.com/mediflow/mediflow/internal/rx"
	"github.com/mediflow/mediflow/internal/session"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mediflow",
		Short: "MediFlow e-prescription client",
	}

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(patientsCmd())
	rootCmd.AddCommand(medicinesCmd())
	rootCmd.AddCommand(prescribeCmd())
	rootCmd.AddCommand(prescriptionsCmd())
	rootCmd.AddCommand(pharmaciesCmd())
	rootCmd.AddCommand(mockapiCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func newClient(cfg *config.Config, tokens api.TokenSource, logger zerolog.Logger) *api.Client {
	opts := []api.Option{
		api.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second}),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithLogger(logger),
	}
	if tokens != nil {
		opts = append(opts, api.WithTokenSource(tokens))
	}
	return api.New(cfg.APIBaseURL, opts...)
}

// authedClient loads the stored session and builds a client carrying
// its token.
func authedClient(cfg *config.Config, logger zerolog.Logger) (*api.Client, *session.Session, error) {
	sess, err := session.Load(cfg.TokenPath)
	if errors.Is(err, session.ErrNoSession) {
		return nil, nil, fmt.Errorf("not logged in; run `mediflow login` first")
	}
	if err != nil {
		return nil, nil, err
	}
	if sess.Expired(time.Now()) {
		_ = session.Clear(cfg.TokenPath)
		return nil, nil, fmt.Errorf("session expired; run `mediflow login` again")
	}
	return newClient(cfg, sess, logger), sess, nil
}

// friendlyErr rewrites a dead-session error and clears the stored
// token so the next invocation starts clean.
func friendlyErr(cfg *config.Config, err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		_ = session.Clear(cfg.TokenPath)
		return fmt.Errorf("session rejected by server; run `mediflow login` again")
	}
	return err
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <email-or-phone>",
		Short: "Authenticate and store the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				return fmt.Errorf("--password is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			client := newClient(cfg, nil, logger)
			res, err := client.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}

			sess, err := session.FromToken(res.Token)
			if err != nil {
				return fmt.Errorf("parse session token: %w", err)
			}
			if err := sess.Save(cfg.TokenPath); err != nil {
				return err
			}

			fmt.Printf("Logged in as %s (%s)\n", res.User.Email, res.User.Role)
			return nil
		},
	}
	cmd.Flags().String("password", "", "Account password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and remove the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			client, _, err := authedClient(cfg, logger)
			if err == nil {
				// Best effort: the local token is removed either way.
				if err := client.Logout(cmd.Context()); err != nil {
					logger.Warn().Err(err).Msg("server-side logout failed")
				}
			}
			if err := session.Clear(cfg.TokenPath); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			sess, err := session.Load(cfg.TokenPath)
			if errors.Is(err, session.ErrNoSession) {
				return fmt.Errorf("not logged in")
			}
			if err != nil {
				return err
			}

			fmt.Printf("User:    %s\n", sess.UserID)
			fmt.Printf("Email:   %s\n", sess.Email)
			fmt.Printf("Role:    %s\n", sess.Role)
			if !sess.ExpiresAt.IsZero() {
				fmt.Printf("Expires: %s\n", sess.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func patientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients [query]",
		Short: "Search the patient directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				limit = cfg.SearchLimit
			}
			interactive, _ := cmd.Flags().GetBool("interactive")

			logger := newLogger(cfg)
			client, _, err := authedClient(cfg, logger)
			if err != nil {
				return err
			}

			if interactive {
				return interactiveSearch(cmd.Context(), client.SearchPatients,
					time.Duration(cfg.SearchDebounceMS)*time.Millisecond, limit, logger,
					os.Stdin, os.Stdout, renderPatients)
			}
			if len(args) == 0 {
				return fmt.Errorf("a query is required unless --interactive is set")
			}

			patients, err := client.SearchPatients(cmd.Context(), args[0], limit)
			if err != nil {
				return friendlyErr(cfg, err)
			}
			if len(patients) == 0 {
				fmt.Println("No patients found.")
				return nil
			}
			fmt.Printf("%-8s %-30s %s\n", "ID", "NAME", "DATE OF BIRTH")
			for _, p := range patients {
				fmt.Printf("%-8s %-30s %s\n", p.ID, p.FullName, p.DateOfBirth)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "Maximum results (defaults to SEARCH_LIMIT)")
	cmd.Flags().Bool("interactive", false, "Read queries from stdin with debounced live results")
	return cmd
}

func medicinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "medicines [query]",
		Short: "Search the medicine directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				limit = cfg.SearchLimit
			}
			interactive, _ := cmd.Flags().GetBool("interactive")

			logger := newLogger(cfg)
			client, _, err := authedClient(cfg, logger)
			if err != nil {
				return err
			}

			if interactive {
				return interactiveSearch(cmd.Context(), client.SearchMedicines,
					time.Duration(cfg.SearchDebounceMS)*time.Millisecond, limit, logger,
					os.Stdin, os.Stdout, renderMedicines)
			}
			if len(args) == 0 {
				return fmt.Errorf("a query is required unless --interactive is set")
			}

			medicines, err := client.SearchMedicines(cmd.Context(), args[0], limit)
			if err != nil {
				return friendlyErr(cfg, err)
			}
			if len(medicines) == 0 {
				fmt.Println("No medicines found.")
				return nil
			}
			fmt.Printf("%-8s %-20s %s\n", "ID", "BRAND", "GENERIC")
			for _, m := range medicines {
				fmt.Printf("%-8s %-20s %s\n", m.ID, m.BrandName, m.GenericName)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "Maximum results (defaults to SEARCH_LIMIT)")
	cmd.Flags().Bool("interactive", false, "Read queries from stdin with debounced live results")
	return cmd
}

// interactiveSearch reads queries line by line and serves results
// through the same debounced provider the composition flow uses, so
// rapid edits collapse into one remote lookup.
func interactiveSearch[T any](ctx context.Context, lookup rx.LookupFunc[T], debounce time.Duration, limit int, logger zerolog.Logger, in io.Reader, out io.Writer, render func(io.Writer, []T)) error {
	provider := rx.NewSearchProvider(lookup, debounce, limit, logger)
	defer provider.Close()
	provider.OnUpdate(func(candidates []T) {
		render(out, candidates)
	})

	fmt.Fprintln(out, "Type a query and press enter; an empty line clears. Ctrl-D exits.")
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		provider.SetQuery(ctx, strings.TrimSpace(sc.Text()))
	}
	// Let a lookup scheduled by the last line resolve before closing.
	time.Sleep(debounce + 100*time.Millisecond)
	return sc.Err()
}

func renderPatients(w io.Writer, patients []rx.Patient) {
	if len(patients) == 0 {
		fmt.Fprintln(w, "  (no matches)")
		return
	}
	for _, p := range patients {
		fmt.Fprintf(w, "  %-8s %-30s %s\n", p.ID, p.FullName, p.DateOfBirth)
	}
}

func renderMedicines(w io.Writer, medicines []rx.Medicine) {
	if len(medicines) == 0 {
		fmt.Fprintln(w, "  (no matches)")
		return
	}
	for _, m := range medicines {
		fmt.Fprintf(w, "  %-8s %-20s %s\n", m.ID, m.BrandName, m.GenericName)
	}
}

func prescribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prescribe",
		Short: "Compose and submit a prescription",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetString("patient-id")
			medicineQueries, _ := cmd.Flags().GetStringArray("medicine")
			frequency, _ := cmd.Flags().GetString("frequency")
			duration, _ := cmd.Flags().GetInt("duration")
			route, _ := cmd.Flags().GetString("route")
			form, _ := cmd.Flags().GetString("form")
			dose, _ := cmd.Flags().GetInt("dose")
			complaints, _ := cmd.Flags().GetString("complaints")
			findings, _ := cmd.Flags().GetString("findings")
			advice, _ := cmd.Flags().GetString("advice")
			followUp, _ := cmd.Flags().GetString("follow-up")

			if patientID == "" {
				return fmt.Errorf("--patient-id is required")
			}
			if len(medicineQueries) == 0 {
				return fmt.Errorf("at least one --medicine is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			client, _, err := authedClient(cfg, logger)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			patients, err := client.SearchPatients(ctx, patientID, 1)
			if err != nil {
				return friendlyErr(cfg, err)
			}
			if len(patients) == 0 {
				return fmt.Errorf("no patient matches %q", patientID)
			}

			draft := rx.NewDraft()
			draft.SelectPatient(patients[0])
			draft.SetChiefComplaints(complaints)
			draft.SetFindingsOnExam(findings)
			draft.SetAdvice(advice)

			if followUp != "" {
				t, err := parseFollowUp(followUp)
				if err != nil {
					return err
				}
				draft.SetFollowUpDate(t)
			}

			for _, q := range medicineQueries {
				medicines, err := client.SearchMedicines(ctx, q, 1)
				if err != nil {
					return friendlyErr(cfg, err)
				}
				if len(medicines) == 0 {
					return fmt.Errorf("no medicine matches %q", q)
				}
				line := draft.AddLine(medicines[0])

				upd := rx.LineUpdate{}
				if frequency != "" {
					upd.Frequency = &frequency
				}
				if duration > 0 {
					upd.DurationInDays = &duration
				}
				if route != "" {
					upd.Route = &route
				}
				if form != "" {
					upd.Form = &form
				}
				if dose > 0 {
					upd.QuantityPerDose = &dose
				}
				draft.UpdateLine(line.Key, upd)
			}

			for _, l := range draft.Lines() {
				fmt.Printf("  %s (%s): %s\n", l.Name, l.GenericName, l.FullInstruction)
			}

			submitter := rx.NewSubmitter(client, logger)
			created, err := submitter.Submit(ctx, draft)
			if err != nil {
				var subErr *rx.SubmitError
				if errors.As(err, &subErr) {
					return fmt.Errorf("rejected: %s", subErr.Message)
				}
				return friendlyErr(cfg, err)
			}

			fmt.Printf("Prescription %s created for %s (%d medicines)\n",
				created.ID, created.Patient.FullName, len(created.Medicines))
			return nil
		},
	}
	cmd.Flags().String("patient-id", "", "Patient identifier or name to prescribe for")
	cmd.Flags().StringArray("medicine", nil, "Medicine to add (repeatable)")
	cmd.Flags().String("frequency", "", "Frequency code for all lines (od, bid, tid, qid, prn)")
	cmd.Flags().Int("duration", 0, "Duration in days for all lines")
	cmd.Flags().String("route", "", "Route for all lines")
	cmd.Flags().String("form", "", "Form for all lines")
	cmd.Flags().Int("dose", 0, "Quantity per dose for all lines")
	cmd.Flags().String("complaints", "", "Chief complaints")
	cmd.Flags().String("findings", "", "Findings on examination")
	cmd.Flags().String("advice", "", "Advice text")
	cmd.Flags().String("follow-up", "", "Follow-up date (YYYY-MM-DD or RFC 3339)")
	return cmd
}

func prescriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prescriptions [id]",
		Short: "List prescriptions, or show one by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetString("patient-id")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client, _, err := authedClient(cfg, newLogger(cfg))
			if err != nil {
				return err
			}

			if len(args) == 1 {
				p, err := client.GetPrescription(cmd.Context(), args[0])
				if err != nil {
					return friendlyErr(cfg, err)
				}
				printPrescription(os.Stdout, p)
				return nil
			}

			prescriptions, err := client.ListPrescriptions(cmd.Context(), patientID, limit, offset)
			if err != nil {
				return friendlyErr(cfg, err)
			}
			if len(prescriptions) == 0 {
				fmt.Println("No prescriptions found.")
				return nil
			}
			fmt.Printf("%-12s %-24s %-10s %-9s %s\n", "ID", "PATIENT", "MEDICINES", "STATUS", "CREATED")
			for _, p := range prescriptions {
				fmt.Printf("%-12s %-24s %-10d %-9s %s\n",
					p.ID, p.Patient.FullName, len(p.Medicines), p.Status,
					p.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().String("patient-id", "", "Filter by patient")
	cmd.Flags().Int("limit", 20, "Maximum results")
	cmd.Flags().Int("offset", 0, "Results to skip")
	return cmd
}

func printPrescription(w io.Writer, p *rx.Prescription) {
	fmt.Fprintf(w, "Prescription %s (%s)\n", p.ID, p.Status)
	fmt.Fprintf(w, "Patient:    %s (%s)\n", p.Patient.FullName, p.PatientID)
	fmt.Fprintf(w, "Created:    %s\n", p.CreatedAt.Local().Format("2006-01-02 15:04"))
	if p.ChiefComplaints != "" {
		fmt.Fprintf(w, "Complaints: %s\n", p.ChiefComplaints)
	}
	if p.FindingsOnExam != "" {
		fmt.Fprintf(w, "Findings:   %s\n", p.FindingsOnExam)
	}
	if p.Advice != "" {
		fmt.Fprintf(w, "Advice:     %s\n", p.Advice)
	}
	if p.FollowUpDate != nil {
		fmt.Fprintf(w, "Follow-up:  %s\n", p.FollowUpDate.Local().Format("2006-01-02"))
	}
	fmt.Fprintln(w, "Medicines:")
	for _, l := range p.Medicines {
		fmt.Fprintf(w, "  %-20s %s (%s)\n", l.Name, l.FullInstruction, l.TotalQuantity)
	}
}

func pharmaciesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pharmacies",
		Short: "List pharmacies, nearest first when coordinates are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, _ := cmd.Flags().GetFloat64("lat")
			lon, _ := cmd.Flags().GetFloat64("lon")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client, _, err := authedClient(cfg, newLogger(cfg))
			if err != nil {
				return err
			}

			all, err := client.ListPharmacies(cmd.Context())
			if err != nil {
				return friendlyErr(cfg, err)
			}

			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
				for _, p := range all {
					fmt.Printf("%-8s %-24s %s\n", p.ID, p.Name, p.Address)
				}
				return nil
			}

			for _, p := range pharmacy.Nearest(all, lat, lon, limit) {
				fmt.Printf("%-8s %-24s %-30s %6.1f km\n", p.ID, p.Name, p.Address, p.DistanceKm)
			}
			return nil
		},
	}
	cmd.Flags().Float64("lat", 0, "Reference latitude")
	cmd.Flags().Float64("lon", 0, "Reference longitude")
	cmd.Flags().Int("limit", 5, "Maximum results when sorting by distance")
	return cmd
}

func mockapiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mockapi",
		Short: "Run the local development API server",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the mock API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockAPI()
		},
	})
	return cmd
}

func runMockAPI() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	var store mockapi.Store
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		pgStore, err := mockapi.NewPGStore(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		store = pgStore
		logger.Info().Msg("using postgres store")
	} else {
		store = mockapi.NewMemStore()
		logger.Info().Msg("using in-memory store")
	}
	defer store.Close()

	srv := mockapi.NewServer(store, cfg.JWTSecret,
		mockapi.WithServerLogger(logger),
		mockapi.WithSessionTTL(time.Duration(cfg.SessionTTLMinutes)*time.Minute),
	)

	sweeper := srv.StartSessionSweeper()
	defer sweeper.Stop()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("mock API listening")
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// parseFollowUp accepts a bare date or a full RFC 3339 timestamp. Bare
// dates become midnight UTC.
func parseFollowUp(raw string) (*time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid follow-up date %q: use YYYY-MM-DD or RFC 3339", raw)
	}
	t = t.UTC()
	return &t, nil
}
