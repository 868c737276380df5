// Package analyze implements the admission pipeline's analyzer stages.
//
// Each stage is a pure function from image bytes (plus caller context) to a
// Verdict. Stages never touch storage; diagnostics they emit are forwarded
// verbatim into the record's metaData by the orchestrator.
//
// Every numeric threshold is carried in a config struct so operators can
// tune sensitivity without a rebuild.
package analyze

import (
	"github.com/photogate/photogate/pkg/record"
)

// Verdict is the outcome of a single analyzer stage.
type Verdict struct {
	Accepted    bool
	Code        record.ValidationCode
	Message     string
	Diagnostics record.MetaData
}

// Accept builds an accepting verdict carrying optional diagnostics.
func Accept(diagnostics record.MetaData) Verdict {
	return Verdict{Accepted: true, Diagnostics: diagnostics}
}

// Reject builds a rejecting verdict with a coded reason and human message.
func Reject(code record.ValidationCode, message string, diagnostics record.MetaData) Verdict {
	return Verdict{Code: code, Message: message, Diagnostics: diagnostics}
}

// SizeConfig holds thresholds for the size stage.
type SizeConfig struct {
	MinWidth  int   `mapstructure:"min_width" yaml:"min_width"`
	MinHeight int   `mapstructure:"min_height" yaml:"min_height"`
	MinBytes  int64 `mapstructure:"min_bytes" yaml:"min_bytes"`
}

// DefaultSizeConfig returns the stock size thresholds.
func DefaultSizeConfig() SizeConfig {
	return SizeConfig{
		MinWidth:  800,
		MinHeight: 800,
		MinBytes:  100 * 1024,
	}
}

// FaceConfig holds thresholds for the face-heuristic stage.
type FaceConfig struct {
	// High-resolution short-circuit.
	HighResWidth   int     `mapstructure:"high_res_width" yaml:"high_res_width"`
	HighResHeight  int     `mapstructure:"high_res_height" yaml:"high_res_height"`
	HighResAspect  float64 `mapstructure:"high_res_aspect" yaml:"high_res_aspect"`
	MegapixelLimit int     `mapstructure:"megapixel_limit" yaml:"megapixel_limit"`

	// Complex-scene heuristic on the downscaled grayscale.
	ComplexSigma     float64 `mapstructure:"complex_sigma" yaml:"complex_sigma"`
	ComplexMinWidth  int     `mapstructure:"complex_min_width" yaml:"complex_min_width"`
	ComplexMinHeight int     `mapstructure:"complex_min_height" yaml:"complex_min_height"`

	// Feature-cell detection.
	GridCells            int     `mapstructure:"grid_cells" yaml:"grid_cells"`
	FeatureDeltaFactor   float64 `mapstructure:"feature_delta_factor" yaml:"feature_delta_factor"`
	FeatureMinConfidence float64 `mapstructure:"feature_min_confidence" yaml:"feature_min_confidence"`
	ClusterDistance      float64 `mapstructure:"cluster_distance" yaml:"cluster_distance"`

	// Post-hoc adjustments.
	StretchAspect      float64 `mapstructure:"stretch_aspect" yaml:"stretch_aspect"`
	StretchMinFeatures int     `mapstructure:"stretch_min_features" yaml:"stretch_min_features"`
	ManyFeatures       int     `mapstructure:"many_features" yaml:"many_features"`
	SomeFeatures       int     `mapstructure:"some_features" yaml:"some_features"`
	LandscapeAspect    float64 `mapstructure:"landscape_aspect" yaml:"landscape_aspect"`
	LandscapeMinWidth  int     `mapstructure:"landscape_min_width" yaml:"landscape_min_width"`

	// Portrait override (guarded variant only).
	PortraitMaxDim     int     `mapstructure:"portrait_max_dim" yaml:"portrait_max_dim"`
	PortraitColorSigma float64 `mapstructure:"portrait_color_sigma" yaml:"portrait_color_sigma"`

	// Edge-density fallback.
	EdgeStrongThreshold float64 `mapstructure:"edge_strong_threshold" yaml:"edge_strong_threshold"`
	EdgeDensityScale    float64 `mapstructure:"edge_density_scale" yaml:"edge_density_scale"`
}

// DefaultFaceConfig returns the stock face-heuristic thresholds.
func DefaultFaceConfig() FaceConfig {
	return FaceConfig{
		HighResWidth:   5000,
		HighResHeight:  4000,
		HighResAspect:  2.0,
		MegapixelLimit: 12_000_000,

		ComplexSigma:     90,
		ComplexMinWidth:  800,
		ComplexMinHeight: 700,

		GridCells:            20,
		FeatureDeltaFactor:   0.45,
		FeatureMinConfidence: 0.65,
		ClusterDistance:      60,

		StretchAspect:      2.5,
		StretchMinFeatures: 10,
		ManyFeatures:       20,
		SomeFeatures:       12,
		LandscapeAspect:    1.8,
		LandscapeMinWidth:  1500,

		PortraitMaxDim:     1200,
		PortraitColorSigma: 60,

		EdgeStrongThreshold: 200,
		EdgeDensityScale:    40,
	}
}

// BlurConfig holds thresholds for the blur-heuristic stage.
type BlurConfig struct {
	// Sharpening-response vote.
	SharpenRatio float64 `mapstructure:"sharpen_ratio" yaml:"sharpen_ratio"`

	// Local-variance vote.
	BlockVarianceThreshold float64 `mapstructure:"block_variance_threshold" yaml:"block_variance_threshold"`
	SharpBlockFraction     float64 `mapstructure:"sharp_block_fraction" yaml:"sharp_block_fraction"`
	BlockDivisor           int     `mapstructure:"block_divisor" yaml:"block_divisor"`
	MinBlockSize           int     `mapstructure:"min_block_size" yaml:"min_block_size"`

	// Edge-histogram vote.
	EdgeResponseThreshold float64 `mapstructure:"edge_response_threshold" yaml:"edge_response_threshold"`
	EdgePixelFraction     float64 `mapstructure:"edge_pixel_fraction" yaml:"edge_pixel_fraction"`

	// Gradient-sum vote and motion blur.
	GradientFactor float64 `mapstructure:"gradient_factor" yaml:"gradient_factor"`
	MotionRatio    float64 `mapstructure:"motion_ratio" yaml:"motion_ratio"`

	// Fallback single-sigma test.
	FallbackSigma float64 `mapstructure:"fallback_sigma" yaml:"fallback_sigma"`
}

// DefaultBlurConfig returns the stock blur thresholds.
func DefaultBlurConfig() BlurConfig {
	return BlurConfig{
		SharpenRatio:           0.2,
		BlockVarianceThreshold: 100,
		SharpBlockFraction:     0.15,
		BlockDivisor:           20,
		MinBlockSize:           10,
		EdgeResponseThreshold:  50,
		EdgePixelFraction:      0.03,
		GradientFactor:         5,
		MotionRatio:            3,
		FallbackSigma:          25,
	}
}

// HashConfig holds thresholds for the perceptual-hash duplicate stage.
type HashConfig struct {
	// MaxHammingDistance is the largest bit distance still considered a
	// duplicate.
	MaxHammingDistance int `mapstructure:"max_hamming_distance" yaml:"max_hamming_distance"`
}

// DefaultHashConfig returns the stock duplicate-detection thresholds.
func DefaultHashConfig() HashConfig {
	return HashConfig{MaxHammingDistance: 3}
}

// Config bundles every analyzer's tunables.
type Config struct {
	Size SizeConfig `mapstructure:"size" yaml:"size"`
	Face FaceConfig `mapstructure:"face" yaml:"face"`
	Blur BlurConfig `mapstructure:"blur" yaml:"blur"`
	Hash HashConfig `mapstructure:"hash" yaml:"hash"`
}

// DefaultConfig returns the stock configuration for all stages.
func DefaultConfig() Config {
	return Config{
		Size: DefaultSizeConfig(),
		Face: DefaultFaceConfig(),
		Blur: DefaultBlurConfig(),
		Hash: DefaultHashConfig(),
	}
}
