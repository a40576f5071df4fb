package cli

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nczempin/httpc-fipe/internal/tlstest"
	"github.com/nczempin/httpc-fipe/store"
)

// resetFlags restores every flag on cmd and its children to its default so
// tests sharing rootCmd do not leak values into each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// serve starts a one-shot TLS server answering with a JSON body and returns
// the connection flags pointing at it.
func serve(t *testing.T, status, body string) []string {
	t.Helper()
	srv := tlstest.NewServer(t, func(conn net.Conn) {
		tlstest.ReadRequest(conn)
		conn.Write([]byte("HTTP/1.1 " + status + "\r\nContent-Type: application/json\r\nContent-Length: " +
			strconv.Itoa(len(body)) + "\r\n\r\n" + body))
	})

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caFile, srv.CertPEM, 0o600); err != nil {
		t.Fatalf("write CA file: %v", err)
	}
	return []string{
		"--host", srv.Host,
		"--port", strconv.Itoa(srv.Port),
		"--ca-file", caFile,
		"--connect-timeout", "2s",
		"--read-timeout", "2s",
	}
}

const quoteBody = `{"TipoVeiculo":1,"Valor":"R$ 67.148,00","Marca":"VW - VolksWagen","Modelo":"AMAROK CD2.0","AnoModelo":2014,"Combustivel":"Diesel","CodigoFipe":"005340-6","MesReferencia":"outubro de 2026","SiglaCombustivel":"D"}`

func TestRootCommandExists(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd should not be nil")
	}
	if rootCmd.Use != "fipe" {
		t.Errorf("expected Use to be 'fipe', got %q", rootCmd.Use)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{"menu": false, "brands": false, "models": false, "years": false,
		"quote": false, "get": false, "history": false, "version": false}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s subcommand not registered on rootCmd", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
	if !strings.HasPrefix(out, "fipe dev") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestGlobalFlags_Defaults(t *testing.T) {
	resetFlags(rootCmd)
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name     string
		getVal   func() (interface{}, error)
		expected interface{}
	}{
		{"host", func() (interface{}, error) { return flags.GetString("host") }, "parallelum.com.br"},
		{"port", func() (interface{}, error) { return flags.GetInt("port") }, 443},
		{"base-path", func() (interface{}, error) { return flags.GetString("base-path") }, ""},
		{"vehicle", func() (interface{}, error) { return flags.GetString("vehicle") }, "carros"},
		{"backend", func() (interface{}, error) { return flags.GetString("backend") }, "net"},
		{"connect-timeout", func() (interface{}, error) { return flags.GetDuration("connect-timeout") }, 10 * time.Second},
		{"read-timeout", func() (interface{}, error) { return flags.GetDuration("read-timeout") }, 30 * time.Second},
		{"rps", func() (interface{}, error) { return flags.GetFloat64("rps") }, float64(0)},
		{"chunk-cap", func() (interface{}, error) { return flags.GetInt("chunk-cap") }, 1024},
		{"max-header-bytes", func() (interface{}, error) { return flags.GetInt("max-header-bytes") }, 64 << 10},
		{"max-body-bytes", func() (interface{}, error) { return flags.GetInt("max-body-bytes") }, 0},
		{"single-read-header", func() (interface{}, error) { return flags.GetBool("single-read-header") }, false},
		{"bare-lf", func() (interface{}, error) { return flags.GetBool("bare-lf") }, false},
		{"verbose", func() (interface{}, error) { return flags.GetInt("verbose") }, 0},
		{"history", func() (interface{}, error) { return flags.GetString("history") }, ""},
		{"out-dir", func() (interface{}, error) { return flags.GetString("out-dir") }, "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, err := tt.getVal()
			if err != nil {
				t.Fatalf("error getting flag %q: %v", tt.name, err)
			}
			if val != tt.expected {
				t.Errorf("flag %q: expected %v (%T), got %v (%T)",
					tt.name, tt.expected, tt.expected, val, val)
			}
		})
	}
}

func TestClientOptions_VehicleSelectsBasePath(t *testing.T) {
	resetFlags(rootCmd)
	if err := rootCmd.ParseFlags([]string{"--vehicle", "motos"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}

	opts, err := clientOptions(rootCmd)
	if err != nil {
		t.Fatalf("clientOptions failed: %v", err)
	}
	if opts.BasePath != "/fipe/api/v1/motos" {
		t.Errorf("expected motos base path, got %q", opts.BasePath)
	}

	if err := rootCmd.ParseFlags([]string{"--base-path", "/custom"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	opts, _ = clientOptions(rootCmd)
	if opts.BasePath != "/custom" {
		t.Errorf("expected explicit base path to win, got %q", opts.BasePath)
	}
	resetFlags(rootCmd)
}

func TestBrands_UnknownVehicle(t *testing.T) {
	_, err := execute(t, "", "brands", "--vehicle", "barcos")
	if err == nil || !strings.Contains(err.Error(), "unknown vehicle type") {
		t.Errorf("expected unknown vehicle error, got %v", err)
	}
}

func TestModels_NonNumericCode(t *testing.T) {
	_, err := execute(t, "", "models", "vw")
	expected := `brand code must be a non-negative integer, got "vw"`
	if err == nil || err.Error() != expected {
		t.Errorf("expected error %q, got %v", expected, err)
	}
}

func TestBrands_EndToEnd(t *testing.T) {
	args := append([]string{"brands"}, serve(t, "200 OK", `[{"codigo":"1","nome":"Acura"},{"codigo":59,"nome":"VW - VolksWagen"}]`)...)

	out, err := execute(t, "", args...)
	if err != nil {
		t.Fatalf("brands failed: %v", err)
	}
	if !strings.Contains(out, "1\t\tAcura\n") || !strings.Contains(out, "59\t\tVW - VolksWagen\n") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestModels_InvalidCode(t *testing.T) {
	args := append([]string{"models", "0"}, serve(t, "500 Internal Server Error", `{"error":"nope"}`)...)

	_, err := execute(t, "", args...)
	if err == nil || !strings.Contains(err.Error(), "invalid code") {
		t.Errorf("expected invalid code error, got %v", err)
	}
}

func TestGet_PrintsRawResponse(t *testing.T) {
	body := `[{"codigo":"1","nome":"Acura"}]`
	args := append([]string{"get", "marcas"}, serve(t, "200 OK", body)...)

	out, err := execute(t, "", args...)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	want := "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	if out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
}

func TestQuote_SaveAndHistory(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")
	args := append([]string{"quote", "59", "5940", "2014-3", "--save", "--out-dir", dir, "--history", db},
		serve(t, "200 OK", quoteBody)...)

	out, err := execute(t, "", args...)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !strings.Contains(out, "VALOR: R$ 67.148,00") {
		t.Errorf("expected summary in output:\n%s", out)
	}

	saved := filepath.Join(dir, "AMAROK CD2.0 (2014) - outubro de 2026.txt")
	if _, err := os.Stat(saved); err != nil {
		t.Errorf("expected saved file %s: %v", saved, err)
	}

	out, err = execute(t, "", "history", "list", "--history", db)
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	if !strings.Contains(out, "AMAROK CD2.0 (2014)  R$ 67.148,00") {
		t.Errorf("expected saved quote in history:\n%s", out)
	}

	h, err := store.NewSQLiteHistory(db)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	records, _ := h.List(t.Context())
	h.Close()
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}

	if _, err := execute(t, "", "history", "delete", records[0].ID, "--history", db); err != nil {
		t.Fatalf("history delete failed: %v", err)
	}
	out, _ = execute(t, "", "history", "list", "--history", db)
	if !strings.Contains(out, "No saved quotes.") {
		t.Errorf("expected empty history after delete:\n%s", out)
	}
}

func TestGet_BodyOverLimit(t *testing.T) {
	args := append([]string{"get", "marcas", "--max-body-bytes", "4"}, serve(t, "200 OK", `[{"codigo":"1"}]`)...)

	_, err := execute(t, "", args...)
	if err == nil || !strings.Contains(err.Error(), "body too large") {
		t.Errorf("expected body too large error, got %v", err)
	}
}

func TestHistory_RequiresDatabase(t *testing.T) {
	_, err := execute(t, "", "history", "list")
	expected := "history database is required (use --history)"
	if err == nil || err.Error() != expected {
		t.Errorf("expected error %q, got %v", expected, err)
	}
}

func TestHistory_DeleteUnknown(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	_, err := execute(t, "", "history", "delete", "missing", "--history", db)
	if err == nil || !strings.Contains(err.Error(), "no saved quote") {
		t.Errorf("expected missing id error, got %v", err)
	}
}

func TestMenu_ExitAtBrands(t *testing.T) {
	args := append([]string{"menu"}, serve(t, "200 OK", `[{"codigo":"1","nome":"Acura"}]`)...)

	out, err := execute(t, "0\n", args...)
	if err != nil {
		t.Fatalf("menu failed: %v", err)
	}
	if !strings.Contains(out, "VEHICLE BRANDS:") || !strings.Contains(out, "Acura") {
		t.Errorf("unexpected menu output:\n%s", out)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, 0).Warn("hidden")
	if buf.Len() != 0 {
		t.Errorf("verbose 0 should drop warnings, got %q", buf.String())
	}
	newLogger(&buf, 3).Debug("shown")
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Errorf("verbose 3 should log debug, got %q", buf.String())
	}
}
