package main

import(
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/mtarenghi/psfcross/pkg/crossfit"
	"github.com/mtarenghi/psfcross/pkg/diag"
	"github.com/mtarenghi/psfcross/pkg/epsf"
	"github.com/mtarenghi/psfcross/pkg/frame"
	"github.com/mtarenghi/psfcross/pkg/starcat"
)

var(
	fVerbosity  int
	fConfig     string
	fProfile    string
	fMode       string

	fReference  string
	fRefPSF     string
	fStars      string
	fCatalog    string
	fPSFOut     string

	fBinSize    int
	fFitAlpha   bool
	fFitOffset  bool
	fOversample int
	fConfigID   string
	fDiagDir    string
)

func init() {
	flag.IntVar(&fVerbosity, "v", 0, "how verbose to get")
	flag.StringVar(&fConfig, "config", "", "yaml config file with instrument profiles")
	flag.StringVar(&fProfile, "profile", "muse", "which instrument profile to use")
	flag.StringVar(&fMode, "mode", "measure", "what to do: buildpsf, measure")

	flag.StringVar(&fReference, "ref", "", "reference image FITS file (measure mode)")
	flag.StringVar(&fRefPSF, "refpsf", "", "reference PSF artifact FITS file (measure mode)")
	flag.StringVar(&fStars, "stars", "", "two-column RA/Dec star list, used as given (buildpsf mode)")
	flag.StringVar(&fCatalog, "catalog", "", "three-column RA/Dec/mag catalog export, curated before use (buildpsf mode)")
	flag.StringVar(&fPSFOut, "psfout", "psf.fits", "where to write the PSF artifact (buildpsf mode)")

	flag.IntVar(&fBinSize, "binsize", 15, "block size for the flux calibration")
	flag.BoolVar(&fFitAlpha, "fitalpha", false, "fit the Moffat power index instead of fixing it")
	flag.BoolVar(&fFitOffset, "fitoffset", false, "fit a constant background offset")
	flag.IntVar(&fOversample, "oversample", 1, "fit on a grid this many times finer")
	flag.StringVar(&fConfigID, "configid", "", "instrument config ID, selects the Moffat alpha")
	flag.StringVar(&fDiagDir, "diagdir", "", "if set, write diagnostic PNGs here")
	flag.Parse()

	log.Printf("psfcross starting\n")
}

func main() {
	cfg := frame.NewConfig()
	if fConfig != "" {
		var err error
		if cfg, err = frame.LoadConfig(fConfig); err != nil {
			log.Fatal(err)
		}
	}
	cfg.Verbosity = fVerbosity
	profile := cfg.GetProfile(fProfile)
	if err := profile.Validate(); err != nil {
		log.Fatal(err)
	}

	if fVerbosity > 0 {
		log.Printf("Final configuration:-\n\n%s\n", cfg.AsYaml())
	}

	switch fMode {
	case "buildpsf":
		runBuildPSF(cfg, profile, flag.Args())
	case "measure":
		runMeasure(cfg, profile, flag.Args())
	default:
		log.Fatalf("no mode named '%s'", fMode)
	}
}

func loadImage(path string, p frame.Profile) *frame.Image {
	f, err := os.Open(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	img, err := frame.LoadFITS(f, p)
	if err != nil {
		log.Fatalf("%s: %v", path, err)
	}
	return img
}

// runBuildPSF derives an empirical PSF for one image from the stars
// listed in -stars, and writes it out as a FITS artifact.
func runBuildPSF(cfg frame.Config, p frame.Profile, args []string) {
	if len(args) != 1 {
		log.Fatal("buildpsf mode wants exactly one image file")
	}

	img := loadImage(args[0], p)
	if cfg.Verbosity > 0 {
		log.Printf("loaded %s\n", img)
	}

	var curated starcat.Catalog
	switch {
	case fStars != "":
		sf, err := os.Open(fStars)
		if err != nil {
			log.Fatal(err)
		}
		positions, err := frame.ReadStarPositions(sf)
		sf.Close()
		if err != nil {
			log.Fatal(err)
		}
		// an explicit star list skips curation entirely; the positions
		// are used exactly as given
		curated = starcat.FromPositions(positions)
		log.Printf("star list: using all %d positions\n", curated.Len())
	case fCatalog != "":
		cf, err := os.Open(fCatalog)
		if err != nil {
			log.Fatal(err)
		}
		raw, err := frame.ReadCatalog(cf)
		cf.Close()
		if err != nil {
			log.Fatal(err)
		}
		curated = starcat.Curate(raw, img.WCS, img.Galaxy, starcat.DefaultCurateOptions())
		log.Printf("catalog curation: %d in, %d kept\n", len(raw), curated.Len())
	default:
		log.Fatal("buildpsf mode needs -stars or -catalog")
	}

	cutouts := starcat.ExtractCutouts(curated, &img.Data, img.WCS,
		p.CutoutArcsec, p.NPix, nil, starcat.DefaultExtractOptions())
	log.Printf("extracted %d usable cutouts\n", len(cutouts))

	buildOpts := epsf.DefaultBuildOptions()
	buildOpts.Oversampling = p.Oversampling
	result, err := epsf.Build(cutouts, img.PixScale(), buildOpts)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("PSF built from %d stars in %d iterations\n", result.GoodStars, result.Iterations)

	out, err := os.Create(fPSFOut)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()
	if err := result.PSF.WriteTo(out); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s\n", fPSFOut)

	if fDiagDir != "" {
		diagPath := func(name string) string { return filepath.Join(fDiagDir, name) }
		if err := diag.SaveGridPNG(&result.PSF.Data, "psf", diagPath("psf.png")); err != nil {
			log.Printf("diag: %v", err)
		}
		if err := diag.SaveResidualPNG(&result.Residual, "psf residual", diagPath("psf-residual.png")); err != nil {
			log.Printf("diag: %v", err)
		}
		if err := diag.SavePSFMontage(&result.PSF.Data, &result.Residual, diagPath("psf-montage.png")); err != nil {
			log.Printf("diag: %v", err)
		}
	}
}

// runMeasure fits the PSF of each target image against one reference.
// Multiple targets share the reference and run concurrently.
func runMeasure(cfg frame.Config, p frame.Profile, args []string) {
	if len(args) < 1 {
		log.Fatal("measure mode wants at least one target image file")
	}
	if fReference == "" || fRefPSF == "" {
		log.Fatal("measure mode needs -ref and -refpsf")
	}

	ref := loadImage(fReference, p)
	pf, err := os.Open(fRefPSF)
	if err != nil {
		log.Fatal(err)
	}
	ref.PSF, err = epsf.ReadArtifact(pf)
	pf.Close()
	if err != nil {
		log.Fatal(err)
	}

	results := measureConcurrently(cfg, p, ref, args)

	for _, r := range results {
		if r.err != nil {
			log.Printf("%s: FAILED: %v\n", r.name, r.err)
			continue
		}
		log.Printf("%s: %s  %s\n", r.name, r.flux, r.fit)
	}
}

type measureJob struct {
	// Inputs for the job
	cfg     frame.Config
	profile frame.Profile
	ref    *frame.Image
	name    string

	// Outputs
	flux crossfit.FluxFit
	fit *crossfit.FitResult
	err  error
}

// measureConcurrently runs one PSF measurement per target file on a
// pool of goroutines. The reference image is shared read-only; each
// job loads and mutates only its own target.
func measureConcurrently(cfg frame.Config, p frame.Profile, ref *frame.Image, names []string) []measureJob {
	var wg sync.WaitGroup
	jobsChan    := make(chan measureJob, len(names))
	resultsChan := make(chan measureJob, len(names))

	nWorkers := 4
	if len(names) < nWorkers { nWorkers = len(names) }
	for i:=0; i<nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				job.flux, job.fit, job.err = measureOne(job.cfg, job.profile, job.ref, job.name)
				resultsChan<- job
			}
		}()
	}

	for _, name := range names {
		jobsChan<- measureJob{cfg: cfg, profile: p, ref: ref, name: name}
	}
	close(jobsChan)
	wg.Wait()
	close(resultsChan)

	byName := map[string]measureJob{}
	for job := range resultsChan {
		byName[job.name] = job
	}
	out := []measureJob{}
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out
}

func measureOne(cfg frame.Config, p frame.Profile, ref *frame.Image, name string) (crossfit.FluxFit, *crossfit.FitResult, error) {
	f, err := os.Open(name)
	if err != nil {
		return crossfit.FluxFit{}, nil, err
	}
	target, err := frame.LoadFITS(f, p)
	f.Close()
	if err != nil {
		return crossfit.FluxFit{}, nil, err
	}

	// rotate the reference PSF into the target's frame orientation now;
	// reprojection below replaces the reference WCS, losing the angle
	psf := ref.PSF
	if theta := target.WCS.RotationDeg() - ref.WCS.RotationDeg(); theta != 0 {
		psf = &epsf.Artifact{
			Data:         ref.PSF.Rotated(theta),
			PixScale:     ref.PSF.PixScale,
			Oversampling: ref.PSF.Oversampling,
		}
	}

	// bring the reference onto the target's grid; the target's pixels
	// are what we are measuring, so they stay untouched
	refCopy := &frame.Image{Data: ref.Data.Copy(), WCS: ref.WCS, Unit: ref.Unit, PSF: psf}
	if err := refCopy.Resample(frame.ResampleOptions{TargetWCS: &target.WCS}); err != nil {
		return crossfit.FluxFit{}, nil, err
	}
	refCopy.Data.ZeroNonFinite()

	flux, err := crossfit.CalibrateFlux(target, &refCopy.Data, fBinSize)
	if err != nil {
		return flux, nil, err
	}
	if cfg.Verbosity > 0 {
		log.Printf("%s: %s\n", name, flux)
	}

	// keep bright point sources out of the fit; they dominate the
	// residual otherwise
	_, starMask := starcat.LocateBrightStars(&target.Data, 10.0, 4.0/target.PixScale())

	opts := crossfit.DefaultFitOptions()
	opts.FWHM0 = p.FWHM0
	opts.Alpha = p.Alpha(fConfigID)
	opts.FitAlpha = fFitAlpha
	opts.FitOffset = fFitOffset
	opts.EdgeMargin = p.EdgeMargin
	opts.Oversample = fOversample
	opts.StarMask = &starMask

	fit, err := crossfit.Fit(target, refCopy, opts)
	if err != nil {
		return flux, nil, err
	}

	if fDiagDir != "" {
		base := filepath.Base(name)
		if err := diag.SaveResidualPNG(&fit.Residual,
			fmt.Sprintf("residual %s", base),
			filepath.Join(fDiagDir, base+"-residual.png")); err != nil {
			log.Printf("diag: %v", err)
		}
		h := diag.FluxRatioHistogram(&target.Data, &refCopy.Data)
		log.Printf("%s flux ratio histogram: %s\n", base, h)
	}

	if cfg.Verbosity > 0 && len(fit.Trace) > 0 {
		last := fit.Trace[len(fit.Trace)-1]
		log.Printf("%s: %d optimizer steps, final f=%g\n", name, len(fit.Trace), last.F)
	}
	if !fit.Converged {
		log.Printf("%s: fit did not converge after %d iterations\n", name, opts.MaxIters)
	}
	if math.IsNaN(fit.FWHM) {
		return flux, fit, fmt.Errorf("fit produced NaN FWHM")
	}
	return flux, fit, nil
}
