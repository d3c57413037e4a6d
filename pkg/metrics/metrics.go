// Copyright 2025 AetherEngine
//
// Prometheus Metrics
// One Metrics value is built at startup and passed to every service and
// handler; nothing registers against the default global registry.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the registry and every collector the control plane emits.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec

	ArtifactUploadBytes      prometheus.Counter
	ArtifactUploadDuration   prometheus.Histogram
	ArtifactPutDuration      prometheus.Histogram
	ArtifactActiveGauge      prometheus.Gauge
	ArtifactsTotal           prometheus.Gauge
	PresignRequests          prometheus.Counter
	PresignFailures          prometheus.Counter
	CompleteDuration         prometheus.Histogram
	CompleteFailures         prometheus.Counter
	SizeExceededFailures     prometheus.Counter
	PendingGCRuns            prometheus.Counter
	PendingGCDeleted         prometheus.Counter
	DigestMismatches         prometheus.Counter
	LegacyUploadRequests     prometheus.Counter
	ArtifactEventsTotal      prometheus.Counter
	MultipartInits           prometheus.Counter
	MultipartPartPresigns    prometheus.Counter
	MultipartCompletes       prometheus.Counter
	MultipartCompleteFailures prometheus.Counter
	MultipartPartSize        prometheus.Histogram
	MultipartPartsPerArtifact prometheus.Histogram
	QuotaExceededTotal       prometheus.Counter

	SBOMUploads         prometheus.Counter
	SBOMUploadStatus    *prometheus.CounterVec
	SBOMValidation      *prometheus.CounterVec
	SBOMInvalid         prometheus.Counter
	BackfillSynthesized prometheus.Counter

	ProvenanceEmitted       *prometheus.CounterVec
	AttestationSigned       *prometheus.CounterVec
	ProvenanceWriteFailures prometheus.Counter
}

// New builds a Metrics value with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP request count"},
			[]string{"method", "path", "status"}),

		ArtifactUploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_upload_bytes_total", Help: "Total uploaded artifact bytes (after write)"}),
		ArtifactUploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "artifact_upload_duration_seconds", Help: "Artifact upload+verify duration seconds"}),
		ArtifactPutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "artifact_put_duration_seconds", Help: "Client reported raw PUT upload duration (seconds)"}),
		ArtifactActiveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "artifact_uploads_in_progress", Help: "Concurrent artifact uploads in progress"}),
		ArtifactsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "artifacts_total", Help: "Total number of stored artifacts"}),
		PresignRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_presign_requests_total", Help: "Total presign requests"}),
		PresignFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_presign_failures_total", Help: "Total presign failures"}),
		CompleteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "artifact_complete_duration_seconds", Help: "Duration of complete endpoint processing"}),
		CompleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_complete_failures_total", Help: "Total complete failures"}),
		SizeExceededFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_size_exceeded_total", Help: "Total artifacts rejected for exceeding max size"}),
		PendingGCRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_pending_gc_runs_total", Help: "Pending artifact GC runs"}),
		PendingGCDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_pending_gc_deleted_total", Help: "Pending artifacts deleted by GC"}),
		DigestMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_digest_mismatch_total", Help: "Total remote digest mismatches (metadata or hash)"}),
		LegacyUploadRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_legacy_upload_requests_total", Help: "Total legacy multipart /artifacts endpoint requests"}),
		ArtifactEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_events_total", Help: "Total artifact events emitted"}),
		MultipartInits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_multipart_inits_total", Help: "Total multipart upload initiations"}),
		MultipartPartPresigns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_multipart_part_presigns_total", Help: "Total multipart part presign requests"}),
		MultipartCompletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_multipart_completes_total", Help: "Total multipart completions"}),
		MultipartCompleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_multipart_complete_failures_total", Help: "Total multipart completion failures"}),
		MultipartPartSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "artifact_multipart_part_size_bytes",
			Help:    "Size distribution of multipart parts (bytes)",
			Buckets: []float64{256_000, 512_000, 1_000_000, 2_000_000, 4_000_000, 8_000_000, 16_000_000, 32_000_000, 64_000_000},
		}),
		MultipartPartsPerArtifact: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "artifact_multipart_parts_per_artifact",
			Help:    "Distribution of multipart part counts per artifact",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 24, 32, 48, 64},
		}),
		QuotaExceededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_quota_exceeded_total", Help: "Total quota enforcement rejections"}),

		SBOMUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sbom_uploads_total", Help: "Total SBOM upload attempts"}),
		SBOMUploadStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sbom_upload_status_total", Help: "SBOM upload outcomes"},
			[]string{"status"}),
		SBOMValidation: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sbom_validation_total", Help: "SBOM validation outcomes"},
			[]string{"result"}),
		SBOMInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sbom_invalid_total", Help: "Total SBOM documents rejected"}),
		BackfillSynthesized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sbom_backfill_synthesized_total", Help: "Legacy artifacts given a synthesized SBOM"}),

		ProvenanceEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "provenance_emitted_total", Help: "Provenance documents emitted"},
			[]string{"app"}),
		AttestationSigned: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "attestation_signed_total", Help: "Attestation signatures produced"},
			[]string{"app"}),
		ProvenanceWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenance_write_failures_total", Help: "Failures writing provenance or attestation files"}),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.ArtifactUploadBytes, m.ArtifactUploadDuration, m.ArtifactPutDuration,
		m.ArtifactActiveGauge, m.ArtifactsTotal,
		m.PresignRequests, m.PresignFailures,
		m.CompleteDuration, m.CompleteFailures, m.SizeExceededFailures,
		m.PendingGCRuns, m.PendingGCDeleted, m.DigestMismatches,
		m.LegacyUploadRequests, m.ArtifactEventsTotal,
		m.MultipartInits, m.MultipartPartPresigns, m.MultipartCompletes,
		m.MultipartCompleteFailures, m.MultipartPartSize, m.MultipartPartsPerArtifact,
		m.QuotaExceededTotal,
		m.SBOMUploads, m.SBOMUploadStatus, m.SBOMValidation, m.SBOMInvalid,
		m.BackfillSynthesized,
		m.ProvenanceEmitted, m.AttestationSigned, m.ProvenanceWriteFailures,
	)

	return m
}

// Handler returns the /metrics exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
