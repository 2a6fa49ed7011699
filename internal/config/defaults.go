package config

const (
	defaultUploadsDir        = "~/.local/share/upres/uploads"
	defaultResultsDir        = "~/.local/share/upres/results"
	defaultWorkDir           = "~/.local/share/upres/work"
	defaultLogDir            = "~/.local/share/upres/logs"
	defaultAPIBind           = "127.0.0.1:3000"
	defaultEnhancerBinary    = "realesrgan-ncnn-vulkan"
	defaultEnhancerModel     = "realesrgan-x4plus"
	defaultAttemptTimeout    = 120
	defaultFrameCheckBytes   = 1000
	defaultFaceBinary        = "gfpgan-ncnn-vulkan"
	defaultFaceModel         = "GFPGANv1.4"
	defaultFaceWorkers       = 2
	defaultFFmpegBinary      = "ffmpeg"
	defaultFFprobeBinary     = "ffprobe"
	defaultFPS               = 30
	defaultTargetHeight      = 2160
	defaultCRF               = 18
	defaultPreset            = "slow"
	defaultAudioBitrate      = "192k"
	defaultStderrLimit       = 240
	defaultStreamIntervalMS  = 500
	defaultMinFreeSpaceGiB   = 2
	defaultMaxUploadMiB      = 2048
	defaultNotifyTimeout     = 10
	defaultHistoryLimit      = 50
	defaultLogFormat         = "auto"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			UploadsDir: defaultUploadsDir,
			ResultsDir: defaultResultsDir,
			WorkDir:    defaultWorkDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Enhancer: Enhancer{
			Binary:                defaultEnhancerBinary,
			DefaultModel:          defaultEnhancerModel,
			GPUs:                  []int{0, 1},
			AttemptTimeoutSeconds: defaultAttemptTimeout,
			PixelCheck:            true,
			FrameCheckMinBytes:    defaultFrameCheckBytes,
		},
		FaceRestore: FaceRestore{
			Enabled: true,
			Binary:  defaultFaceBinary,
			Model:   defaultFaceModel,
			Workers: defaultFaceWorkers,
		},
		Encoding: Encoding{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			FPS:           defaultFPS,
			TargetHeight:  defaultTargetHeight,
			CRF:           defaultCRF,
			Preset:        defaultPreset,
			AudioBitrate:  defaultAudioBitrate,
			StderrLimit:   defaultStderrLimit,
		},
		Workflow: Workflow{
			StreamIntervalMS: defaultStreamIntervalMS,
			MinFreeSpaceGiB:  defaultMinFreeSpaceGiB,
			MaxUploadMiB:     defaultMaxUploadMiB,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		History: History{
			Enabled: true,
			Limit:   defaultHistoryLimit,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
