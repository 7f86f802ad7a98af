// conf/defaults.go
package conf

import "github.com/spf13/viper"

// setDefaultConfig registers default values for every configuration
// parameter so that an absent or partial config file still produces a
// usable Settings instance.
func setDefaultConfig() {
	viper.SetDefault("main.name", "gaia-processing")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/app.log")
	viper.SetDefault("main.log.rotation", RotationSize)
	viper.SetDefault("main.log.maxsize", 100*1024*1024)

	viper.SetDefault("location.latitude", -1.0)
	viper.SetDefault("location.longitude", -1.0)

	viper.SetDefault("analysis.confidence", 0.7)
	viper.SetDefault("analysis.sensitivity", 1.25)
	viper.SetDefault("analysis.overlap", 0.0)
	viper.SetDefault("analysis.locale", "en")
	viper.SetDefault("analysis.occurrencegate.threshold", 0.03)

	viper.SetDefault("privacy.threshold", 0.0)
	viper.SetDefault("privacy.extractionlength", 6)

	viper.SetDefault("model.dir", "/models")
	viper.SetDefault("model.variant", "")

	viper.SetDefault("specieslists.includepath", "")
	viper.SetDefault("specieslists.excludepath", "")
	viper.SetDefault("specieslists.whitelistpath", "")

	viper.SetDefault("discovery.enabled", true)
	viper.SetDefault("discovery.browsetimeout", "3s")
	viper.SetDefault("discovery.peerrefreshinterval", "5m")
	viper.SetDefault("discovery.fallbackpeerurls", []string{})

	viper.SetDefault("dispatch.pollinterval", "5s")
	viper.SetDefault("dispatch.tempdir", "/data/processing_tmp")

	viper.SetDefault("output.extracteddir", "/data/Extracted")
	viper.SetDefault("output.datadir", "/data")
	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "/data/detections.db")
	viper.SetDefault("output.mysql.enabled", false)

	viper.SetDefault("heartbeaturl", "")
}
