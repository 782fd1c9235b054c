package forecast

import (
	"sort"
	"strings"

	"github.com/weatherapp/forecast-service/internal/openweather"
)

// Advisory strings emitted by the daily rules.
const (
	adviceSunscreen   = "Use sunscreen lotion"
	adviceWind        = "It's too windy, watch out!"
	adviceUmbrella    = "Carry umbrella"
	adviceStorm       = "Don't step out! A Storm is brewing!"
	advicePleasantDay = "Have a great day!"
)

// AggregateSamples collapses 3-hourly upstream samples into one record per
// calendar day: high is the max of sample maxima, low the min of sample
// minima, wind/humidity/pressure are arithmetic means. Condition and
// description come from the first sample of the day, not the majority.
// The result is ordered by date and truncated to days entries.
func AggregateSamples(city string, samples []openweather.Sample, days int) []Record {
	if len(samples) == 0 {
		return nil
	}

	byDay := make(map[Date][]openweather.Sample)
	var order []Date
	for _, s := range samples {
		d := NewDate(s.Timestamp)
		if _, seen := byDay[d]; !seen {
			order = append(order, d)
		}
		byDay[d] = append(byDay[d], s)
	}

	sort.Slice(order, func(i, j int) bool {
		return order[i].Before(order[j].Time)
	})

	records := make([]Record, 0, days)
	for _, d := range order {
		if len(records) >= days {
			break
		}

		day := byDay[d]
		rec := reduceDay(city, d, day)
		records = append(records, rec)
	}

	return records
}

func reduceDay(city string, date Date, day []openweather.Sample) Record {
	high := day[0].TempMax
	low := day[0].TempMin

	var sumWind, sumPressure float64
	var sumHumidity int
	for _, s := range day {
		if s.TempMax > high {
			high = s.TempMax
		}
		if s.TempMin < low {
			low = s.TempMin
		}
		sumWind += s.WindSpeed
		sumHumidity += s.Humidity
		sumPressure += s.Pressure
	}

	n := float64(len(day))
	meanWind := sumWind / n

	rec := Record{
		City:        city,
		Date:        date,
		HighTemp:    high,
		LowTemp:     low,
		Description: day[0].Description,
		Condition:   day[0].Condition,
		WindSpeed:   meanWind,
		Humidity:    int(float64(sumHumidity) / n),
		Pressure:    sumPressure / n,
	}
	rec.Advisory = advisoryFor(rec, meanWind, day)

	return rec
}

// advisoryFor evaluates every rule independently and joins the triggered
// ones with ", ".
func advisoryFor(rec Record, meanWind float64, day []openweather.Sample) string {
	var advice []string

	if rec.HighTemp > 40 {
		advice = append(advice, adviceSunscreen)
	}

	if meanWind > 10 {
		advice = append(advice, adviceWind)
	}

	rain := strings.EqualFold(rec.Condition, "Rain")
	if !rain {
		for _, s := range day {
			if s.PrecipMM > 0 {
				rain = true
				break
			}
		}
	}
	if rain {
		advice = append(advice, adviceUmbrella)
	}

	if strings.EqualFold(rec.Condition, "Thunderstorm") {
		advice = append(advice, adviceStorm)
	}

	if len(advice) == 0 {
		return advicePleasantDay
	}
	return strings.Join(advice, ", ")
}
