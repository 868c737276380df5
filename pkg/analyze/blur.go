package analyze

import (
	"math"

	"github.com/photogate/photogate/pkg/record"
)

// BlurAnalyzer runs a voting ensemble of four independent sharpness tests
// over the grayscale image. Two blurry votes reject; a detected motion
// blur rejects on its own.
type BlurAnalyzer struct {
	cfg BlurConfig
}

// NewBlurAnalyzer creates a blur analyzer with the given thresholds.
func NewBlurAnalyzer(cfg BlurConfig) *BlurAnalyzer {
	return &BlurAnalyzer{cfg: cfg}
}

const blurRejectMessage = "Image is too blurry. Please upload a clearer photo."

// Analyze decodes the image and runs the ensemble. When the ensemble
// cannot run it falls back to a single global-sigma test.
func (a *BlurAnalyzer) Analyze(data []byte) (Verdict, error) {
	img, err := decodeImage(data)
	if err != nil {
		return Verdict{}, err
	}

	gray, w, h := grayValues(img)
	if w == 0 || h == 0 {
		return Verdict{}, errEmptyRaster
	}

	diag, blurry := a.vote(gray, w, h)
	if blurry {
		return Reject(record.CodeBlurryImageDetected, blurRejectMessage, diag), nil
	}
	return Accept(diag), nil
}

// AnalyzeFallback is the degraded single-test path used when the full
// ensemble fails: blurry iff the global grayscale sigma is under the
// configured floor.
func (a *BlurAnalyzer) AnalyzeFallback(data []byte) (Verdict, error) {
	img, err := decodeImage(data)
	if err != nil {
		return Verdict{}, err
	}

	gray, w, h := grayValues(img)
	if w == 0 || h == 0 {
		return Verdict{}, errEmptyRaster
	}

	_, sigma := meanStd(gray)
	diag := record.MetaData{"blurMethod": "sigma-fallback", "graySigma": sigma}
	if sigma < a.cfg.FallbackSigma {
		return Reject(record.CodeBlurryImageDetected, blurRejectMessage, diag), nil
	}
	return Accept(diag), nil
}

// vote runs the four tests plus the motion-blur check and collects
// per-method diagnostics.
func (a *BlurAnalyzer) vote(gray []float64, w, h int) (record.MetaData, bool) {
	sharpenVote, sharpenRatio := a.sharpeningResponse(gray, w, h)

	laplacian := convolve3x3(gray, w, h, kernelLaplacian)
	varianceVote, sharpFraction := a.localVariance(laplacian, w, h)
	edgeVote, edgeFraction := a.edgeHistogram(laplacian)

	gradientVote, motionBlur, sumH, sumV := a.gradientSum(gray, w, h)

	votes := 0
	for _, v := range []bool{sharpenVote, varianceVote, edgeVote, gradientVote} {
		if v {
			votes++
		}
	}

	diag := record.MetaData{
		"blurVotes":          votes,
		"sharpenVote":        sharpenVote,
		"sharpenRatio":       sharpenRatio,
		"varianceVote":       varianceVote,
		"sharpBlockFraction": sharpFraction,
		"edgeVote":           edgeVote,
		"edgePixelFraction":  edgeFraction,
		"gradientVote":       gradientVote,
		"gradientSumX":       sumH,
		"gradientSumY":       sumV,
		"motionBlur":         motionBlur,
	}

	return diag, votes >= 2 || motionBlur
}

// sharpeningResponse compares the sigma before and after a high-pass
// kernel. Blurry images gain proportionally more deviation from
// sharpening than already-sharp ones.
func (a *BlurAnalyzer) sharpeningResponse(gray []float64, w, h int) (bool, float64) {
	_, sigma0 := meanStd(gray)
	if sigma0 <= 0 {
		return true, 0
	}
	sharpened := convolve3x3(gray, w, h, kernelSharpen)
	_, sigma1 := meanStd(sharpened)

	ratio := (sigma1 - sigma0) / sigma0
	return ratio > a.cfg.SharpenRatio, ratio
}

// localVariance partitions the Laplacian response into blocks and votes
// blurry when too few blocks carry high variance.
func (a *BlurAnalyzer) localVariance(laplacian []float64, w, h int) (bool, float64) {
	block := min(w, h) / a.cfg.BlockDivisor
	if block < a.cfg.MinBlockSize {
		block = a.cfg.MinBlockSize
	}

	var blocks, sharpBlocks int
	for by := 0; by+block <= h; by += block {
		for bx := 0; bx+block <= w; bx += block {
			vals := make([]float64, 0, block*block)
			for y := by; y < by+block; y++ {
				for x := bx; x < bx+block; x++ {
					vals = append(vals, laplacian[y*w+x])
				}
			}
			_, sigma := meanStd(vals)
			blocks++
			if sigma*sigma > a.cfg.BlockVarianceThreshold {
				sharpBlocks++
			}
		}
	}
	if blocks == 0 {
		return true, 0
	}

	fraction := float64(sharpBlocks) / float64(blocks)
	return fraction < a.cfg.SharpBlockFraction, fraction
}

// edgeHistogram votes blurry when strong Laplacian responses cover too
// small a fraction of the frame.
func (a *BlurAnalyzer) edgeHistogram(laplacian []float64) (bool, float64) {
	var strong int
	for _, v := range laplacian {
		if math.Abs(v) > a.cfg.EdgeResponseThreshold {
			strong++
		}
	}
	fraction := float64(strong) / float64(len(laplacian))
	return fraction < a.cfg.EdgePixelFraction, fraction
}

// gradientSum sums absolute Sobel responses per axis. Low totals on both
// axes vote blurry; a strong axis imbalance with one weak axis flags
// motion blur.
func (a *BlurAnalyzer) gradientSum(gray []float64, w, h int) (vote, motion bool, sumH, sumV float64) {
	gx := convolve3x3(gray, w, h, kernelSobelX)
	gy := convolve3x3(gray, w, h, kernelSobelY)
	for i := range gx {
		sumH += math.Abs(gx[i])
		sumV += math.Abs(gy[i])
	}

	threshold := a.cfg.GradientFactor * float64(w) * float64(h)
	vote = sumH < threshold && sumV < threshold

	lo, hi := math.Min(sumH, sumV), math.Max(sumH, sumV)
	if lo > 0 && hi/lo > a.cfg.MotionRatio && lo < threshold {
		motion = true
	}
	return vote, motion, sumH, sumV
}
