package analyze

import (
	"image"
	"math"

	"github.com/photogate/photogate/pkg/record"
)

// FaceAnalyzer produces a conservative estimate of the number of human
// faces using only statistical image analysis; there is no trained model.
// The goal is to reject obvious multi-subject photographs while tolerating
// single portraits. Estimates are clamped to {0, 1, 2}.
type FaceAnalyzer struct {
	cfg FaceConfig
}

// NewFaceAnalyzer creates a face analyzer with the given thresholds.
func NewFaceAnalyzer(cfg FaceConfig) *FaceAnalyzer {
	return &FaceAnalyzer{cfg: cfg}
}

const faceRejectMessage = "Multiple faces detected in the image. Please upload a photo with a single subject."

// Analyze runs the strict face estimate.
func (a *FaceAnalyzer) Analyze(data []byte) (Verdict, error) {
	width, height, _, err := decodeBounds(data)
	if err != nil {
		return Verdict{}, err
	}

	estimate, method := a.estimate(data, width, height)

	diag := record.MetaData{
		"faceCount":  estimate,
		"faceMethod": method,
	}
	if estimate > 1 {
		return Reject(record.CodeMultipleFacesDetected, faceRejectMessage, diag), nil
	}
	return Accept(diag), nil
}

// AnalyzeGuarded runs the strict estimate and then re-examines a Reject,
// overriding to Accept for likely single-subject portraits: portrait
// orientation or small frames, and low overall color variance (solid
// backgrounds). This is the variant the pipeline uses.
func (a *FaceAnalyzer) AnalyzeGuarded(data []byte) (Verdict, error) {
	v, err := a.Analyze(data)
	if err != nil || v.Accepted {
		return v, err
	}

	width, height, _, err := decodeBounds(data)
	if err != nil {
		return v, nil
	}

	if height > width || (width < a.cfg.PortraitMaxDim && height < a.cfg.PortraitMaxDim) {
		v.Diagnostics["portraitOverride"] = "orientation"
		return Accept(v.Diagnostics), nil
	}

	if img, err := decodeImage(data); err == nil {
		small := fitDownscale(img, 800, 800)
		sr, sg, sb := channelSigmas(small)
		avgSigma := (sr + sg + sb) / 3.0
		if avgSigma < a.cfg.PortraitColorSigma {
			v.Diagnostics["portraitOverride"] = "flat-color"
			v.Diagnostics["colorSigma"] = avgSigma
			return Accept(v.Diagnostics), nil
		}
	}

	return v, nil
}

// estimate runs the heuristic chain and reports which method decided.
func (a *FaceAnalyzer) estimate(data []byte, width, height int) (int, string) {
	aspect := 0.0
	if height > 0 {
		aspect = float64(width) / float64(height)
	}

	// High-resolution short-circuit: very large panoramic frames are
	// almost always group shots or scenery.
	if (width > a.cfg.HighResWidth || height > a.cfg.HighResHeight) && aspect > a.cfg.HighResAspect {
		return 2, "high-res"
	}
	if width*height > a.cfg.MegapixelLimit && width >= height {
		return 2, "megapixel"
	}

	img, err := decodeImage(data)
	if err != nil {
		// Cannot run the raster passes without pixels; fail open with a
		// single-face estimate.
		return 1, "fail-open"
	}

	estimate, err := a.estimateFromRaster(img, width, height, aspect)
	if err == nil {
		return clampEstimate(estimate), "cluster"
	}

	estimate, err = a.edgeDensityFallback(img)
	if err != nil {
		return 1, "fail-open"
	}
	return clampEstimate(estimate), "edge-density"
}

// estimateFromRaster is the main statistical pass: global sigma check,
// feature cells, proximity clustering, post-hoc adjustments.
func (a *FaceAnalyzer) estimateFromRaster(img image.Image, width, height int, aspect float64) (int, error) {
	small := fitDownscale(img, 800, 800)
	gray, gw, gh := grayValues(small)
	if gw == 0 || gh == 0 {
		return 0, errEmptyRaster
	}

	_, sigma := meanStd(gray)

	// Complex-scene heuristic: busy high-contrast frames above a minimum
	// size read as multi-subject.
	if sigma > a.cfg.ComplexSigma && width > a.cfg.ComplexMinWidth && height > a.cfg.ComplexMinHeight {
		return 2, nil
	}

	features := a.detectFeatures(gray, gw, gh)
	clusters := clusterFeatures(features, a.cfg.ClusterDistance)
	estimate := len(clusters)

	// A single horizontally stretched cluster usually spans several
	// adjacent subjects rather than one wide face.
	if len(clusters) == 1 && len(clusters[0]) >= a.cfg.StretchMinFeatures {
		if bboxAspect(clusters[0]) > a.cfg.StretchAspect {
			estimate = 2
		}
	}

	total := len(features)
	if total > a.cfg.ManyFeatures && estimate < 2 {
		estimate = 2
	}
	if total > a.cfg.SomeFeatures && estimate == 0 {
		estimate = 1
	}
	if estimate == 0 && aspect > a.cfg.LandscapeAspect && width > a.cfg.LandscapeMinWidth {
		estimate = 1
	}

	return estimate, nil
}

// cellFeature is one grid cell flagged as a facial-feature candidate.
type cellFeature struct {
	x, y       float64 // cell center in downscaled pixel coordinates
	confidence float64
}

// detectFeatures partitions the grayscale into a grid, flags cells whose
// intensity contrast against their 4-neighborhood stands out from the
// cross-cell deviation, and retains the confident ones.
func (a *FaceAnalyzer) detectFeatures(gray []float64, w, h int) []cellFeature {
	cells := a.cfg.GridCells
	if cells < 2 {
		cells = 2
	}
	cw := w / cells
	ch := h / cells
	if cw == 0 || ch == 0 {
		return nil
	}

	// Per-cell mean intensity.
	means := make([]float64, cells*cells)
	for cy := 0; cy < cells; cy++ {
		for cx := 0; cx < cells; cx++ {
			var sum float64
			for y := cy * ch; y < (cy+1)*ch; y++ {
				for x := cx * cw; x < (cx+1)*cw; x++ {
					sum += gray[y*w+x]
				}
			}
			means[cy*cells+cx] = sum / float64(cw*ch)
		}
	}

	_, crossSigma := meanStd(means)
	if crossSigma <= 0 {
		return nil
	}
	threshold := a.cfg.FeatureDeltaFactor * crossSigma

	var features []cellFeature
	for cy := 0; cy < cells; cy++ {
		for cx := 0; cx < cells; cx++ {
			var delta float64
			var neighbors int
			for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
				nx, ny := cx+d[0], cy+d[1]
				if nx < 0 || ny < 0 || nx >= cells || ny >= cells {
					continue
				}
				delta += math.Abs(means[cy*cells+cx] - means[ny*cells+nx])
				neighbors++
			}
			if neighbors == 0 {
				continue
			}
			delta /= float64(neighbors)
			if delta <= threshold {
				continue
			}

			ratio := delta / crossSigma
			confidence := math.Min(ratio/2, 0.95)
			if confidence <= a.cfg.FeatureMinConfidence {
				continue
			}
			features = append(features, cellFeature{
				x:          (float64(cx) + 0.5) * float64(cw),
				y:          (float64(cy) + 0.5) * float64(ch),
				confidence: confidence,
			})
		}
	}
	return features
}

// clusterFeatures groups features by proximity; each cluster is one face
// candidate. Simple single-linkage over the small feature set.
func clusterFeatures(features []cellFeature, maxDist float64) [][]cellFeature {
	n := len(features)
	if n == 0 {
		return nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := features[i].x - features[j].x
			dy := features[i].y - features[j].y
			if math.Hypot(dx, dy) <= maxDist {
				parent[find(i)] = find(j)
			}
		}
	}

	groups := make(map[int][]cellFeature)
	for i, f := range features {
		root := find(i)
		groups[root] = append(groups[root], f)
	}

	clusters := make([][]cellFeature, 0, len(groups))
	for _, g := range groups {
		clusters = append(clusters, g)
	}
	return clusters
}

// bboxAspect returns the width/height ratio of the cluster bounding box.
func bboxAspect(cluster []cellFeature) float64 {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, f := range cluster {
		minX = math.Min(minX, f.x)
		maxX = math.Max(maxX, f.x)
		minY = math.Min(minY, f.y)
		maxY = math.Max(maxY, f.y)
	}
	h := maxY - minY
	if h <= 0 {
		h = 1
	}
	return (maxX - minX) / h
}

// edgeDensityFallback estimates subject count from the fraction of strong
// Laplacian responses.
func (a *FaceAnalyzer) edgeDensityFallback(img image.Image) (int, error) {
	small := fitDownscale(img, 800, 800)
	gray, gw, gh := grayValues(small)
	if gw == 0 || gh == 0 {
		return 0, errEmptyRaster
	}

	edges := convolve3x3(gray, gw, gh, kernelLaplacian)
	var strong int
	for _, v := range edges {
		if math.Abs(v) > a.cfg.EdgeStrongThreshold {
			strong++
		}
	}
	density := float64(strong) / float64(len(edges))
	return int(math.Round(math.Min(density*a.cfg.EdgeDensityScale, 2))), nil
}

func clampEstimate(estimate int) int {
	return clampInt(estimate, 0, 2)
}
