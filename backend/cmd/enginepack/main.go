package main

import (
	"flag"
	"fmt"
	"os"

	"x-bounce/backend/internal/logger"
	"x-bounce/backend/internal/physics"
)

var combineModes = map[string]physics.CombineMode{
	"max":      physics.CombineMaximum,
	"min":      physics.CombineMinimum,
	"average":  physics.CombineAverage,
	"multiply": physics.CombineMultiply,
	"geomean":  physics.CombineGeometricMean,
}

func main() {
	def := physics.DefaultProfile()

	out := flag.String("out", "./assets/solver.bin", "путь к файлу движка")
	substeps := flag.Int("substeps", def.Substeps, "подшагов на тик")
	iterations := flag.Int("iterations", def.Iterations, "итераций решателя контактов")
	resting := flag.Float64("resting-speed", def.RestingSpeed, "скорость сближения, ниже которой отскока нет")
	slop := flag.Float64("slop", def.Slop, "допустимое проникновение")
	correction := flag.Float64("correction", def.Correction, "доля коррекции проникновения за подшаг")
	maxSpeed := flag.Float64("max-speed", def.MaxSpeed, "ограничение скорости тела")
	friction := flag.String("friction", "geomean", "комбинирование трения: max|min|average|multiply|geomean")
	restitution := flag.String("restitution", "max", "комбинирование упругости: max|min|average|multiply|geomean")
	verify := flag.Bool("verify", false, "только проверить существующий файл")
	flag.Parse()

	log := logger.For("enginepack")

	if *verify {
		engine, err := physics.LoadEngine(*out)
		if err != nil {
			log.Fatalf("Проверка не пройдена: %v", err)
		}
		fmt.Printf("%s: %+v\n", engine.Path(), engine.Profile())
		return
	}

	profile := physics.SolverProfile{
		Substeps:     *substeps,
		Iterations:   *iterations,
		RestingSpeed: *resting,
		Slop:         *slop,
		Correction:   *correction,
		MaxSpeed:     *maxSpeed,
	}
	var ok bool
	if profile.FrictionCombine, ok = combineModes[*friction]; !ok {
		log.Fatalf("Неизвестный режим трения %q", *friction)
	}
	if profile.RestitutionCombine, ok = combineModes[*restitution]; !ok {
		log.Fatalf("Неизвестный режим упругости %q", *restitution)
	}

	if err := physics.WriteProfileFile(*out, profile); err != nil {
		log.Errorf("Не удалось записать %s: %v", *out, err)
		os.Exit(1)
	}
	log.Infof("Профиль решателя записан в %s", *out)
}
