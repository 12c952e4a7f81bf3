package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/eduardocaminha/radreport/pkg/audiostore"
	"github.com/eduardocaminha/radreport/pkg/generate"
	"github.com/eduardocaminha/radreport/pkg/grounding"
	"github.com/eduardocaminha/radreport/pkg/httpapi"
	"github.com/eduardocaminha/radreport/pkg/llms/anthropic"
	"github.com/eduardocaminha/radreport/pkg/llms/bedrock"
	"github.com/eduardocaminha/radreport/pkg/llms/gemini"
	"github.com/eduardocaminha/radreport/pkg/llms/openai"
	"github.com/eduardocaminha/radreport/pkg/model"
	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/store"
)

const shutdownGrace = 10 * time.Second

func main() {
	_ = godotenv.Load()
	configureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New()
	if err != nil {
		logrus.WithError(err).Fatal("store init failed")
	}
	if err := seedSystemTemplates(st); err != nil {
		logrus.WithError(err).Fatal("template seed failed")
	}

	backend, err := newBackend()
	if err != nil {
		logrus.WithError(err).Fatal("backend init failed")
	}

	var audio *audiostore.Store
	if os.Getenv("AUDIO_S3_ENDPOINT") != "" {
		audio, err = audiostore.NewFromEnv(ctx)
		if err != nil {
			logrus.WithError(err).Fatal("audio store init failed")
		}
		if err := audio.EnsureBucket(ctx); err != nil {
			logrus.WithError(err).Fatal("audio bucket init failed")
		}
	}

	orchestrator := generate.NewOrchestrator(st, grounding.NewFormatter(st), backend)
	handler := httpapi.NewHandler(orchestrator, audio)

	server := &http.Server{
		Addr:              listenAddr(),
		Handler:           handler.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("addr", server.Addr).Info("radreportd listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("shutdown incomplete")
	}
}

func configureLogging() {
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})
}

func listenAddr() string {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}
	return ":" + port
}

// newBackend selects the streaming provider named by LLM_PROVIDER.
func newBackend() (model.StreamBackend, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	switch provider {
	case "", "anthropic":
		return anthropic.NewStreamBackend()
	case "bedrock":
		return bedrock.NewStreamBackend()
	case "openai":
		return openai.NewStreamBackend()
	case "gemini":
		return gemini.NewStreamBackend()
	default:
		return nil, errors.New("unknown LLM_PROVIDER: " + provider)
	}
}

// seedSystemTemplates loads the built-in exam templates every installation
// starts with. The store is in-memory, so this runs on every boot.
func seedSystemTemplates(st *store.Store) error {
	tcAbdome, err := st.CreateTemplate(report.Template{
		Ownership:      report.OwnershipSystem,
		Slug:           "tc-abdome-total",
		Name:           "TC Abdome Total",
		Description:    "Tomografia computadorizada de abdome total",
		ExamType:       "tc",
		ExamSubtype:    "abdome",
		Contrast:       report.ContrastBoth,
		UrgencyDefault: false,
		Keywords:       []string{"abdome", "tomografia", "tc abdome"},
		BodyContent: "TOMOGRAFIA COMPUTADORIZADA DE ABDOME TOTAL\n\n" +
			"TÉCNICA: Exame realizado em aparelho multislice, com cortes axiais.\n\n" +
			"ANÁLISE:\nFígado de dimensões e contornos normais.\nVesícula biliar normodistendida.\n" +
			"Baço, pâncreas e adrenais sem alterações.\nRins tópicos, de dimensões preservadas.\n" +
			"Ausência de líquido livre na cavidade.",
		Status: report.StatusPublished,
		Locale: "pt-BR",
	})
	if err != nil {
		return err
	}

	regions := []report.Region{
		{TemplateID: tcAbdome.ID, Slug: "figado", Name: "Fígado", SortOrder: 1, DefaultNormalText: "Fígado de dimensões e contornos normais."},
		{TemplateID: tcAbdome.ID, Slug: "rins", Name: "Rins", SortOrder: 2, DefaultNormalText: "Rins tópicos, de dimensões preservadas."},
		{TemplateID: tcAbdome.ID, Slug: "cavidade", Name: "Cavidade", SortOrder: 3, DefaultNormalText: "Ausência de líquido livre na cavidade.", Optional: true},
	}
	for _, region := range regions {
		if _, err := st.AddRegion(region); err != nil {
			return err
		}
	}

	findings := []report.Finding{
		{
			TemplateID:  tcAbdome.ID,
			RegionSlug:  "rins",
			Slug:        "cisto-renal",
			Name:        "Cisto renal simples",
			Keywords:    []string{"cisto", "cisto renal"},
			BodyContent: "Imagem cística simples no rim {{lado}}, medindo {{medida}}.",
			FieldRules: map[string]report.FieldRule{
				"lado":   {Kind: report.FieldRequired},
				"medida": {Kind: report.FieldOptional, Default: "até 1,0 cm"},
			},
			MeasureDefault: "até 1,0 cm",
		},
		{
			TemplateID:  tcAbdome.ID,
			RegionSlug:  "figado",
			Slug:        "esteatose",
			Name:        "Esteatose hepática",
			Keywords:    []string{"esteatose", "figado gorduroso"},
			BodyContent: "Parênquima hepático com densidade difusamente reduzida, compatível com esteatose.",
		},
	}
	for _, finding := range findings {
		if _, err := st.AddFinding(finding); err != nil {
			return err
		}
	}

	_, err = st.CreateTemplate(report.Template{
		Ownership:   report.OwnershipSystem,
		Slug:        "rx-torax-pa",
		Name:        "RX Tórax PA",
		Description: "Radiografia de tórax em incidência póstero-anterior",
		ExamType:    "rx",
		ExamSubtype: "torax",
		Contrast:    report.ContrastWithout,
		Keywords:    []string{"torax", "raio-x", "radiografia"},
		BodyContent: "RADIOGRAFIA DE TÓRAX (PA)\n\n" +
			"ANÁLISE:\nCampos pulmonares com transparência preservada.\n" +
			"Seios costofrênicos livres.\nÍndice cardiotorácico dentro dos limites da normalidade.",
		Status: report.StatusPublished,
		Locale: "pt-BR",
	})
	return err
}
