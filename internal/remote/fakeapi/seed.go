package fakeapi

import "github.com/studex/studex/internal/remote"

// Categories offered by the marketplace, "All" first.
var Categories = []string{
	remote.AllCategories,
	"Web Development", "Mobile Development", "UI/UX Design", "Graphic Design",
	"Content Writing", "Digital Marketing", "Photography", "Video Editing",
	"Data Analysis", "Tutoring", "Translation", "Virtual Assistant",
}

func demoServices() []remote.Service {
	return []remote.Service{
		{ID: "svc-1", Title: "Landing page in a weekend", Description: "Responsive React landing page for your club or startup.", Category: "Web Development", Price: 45000, PriceType: "FIXED", Rating: 4.9, FreelancerName: "Ada Okafor", Skills: []string{"React", "Tailwind"}},
		{ID: "svc-2", Title: "Logo and brand kit", Description: "Logo, palette and social templates for student businesses.", Category: "Graphic Design", Price: 15000, PriceType: "FIXED", Rating: 4.7, FreelancerName: "Tunde Bello", Skills: []string{"Illustrator", "Branding"}},
		{ID: "svc-3", Title: "Calculus tutoring", Description: "One-on-one MTH101/MTH102 sessions before exams.", Category: "Tutoring", Price: 3000, PriceType: "NEGOTIABLE", Rating: 4.8, FreelancerName: "Chioma Eze", Skills: []string{"Mathematics"}},
		{ID: "svc-4", Title: "Event photography", Description: "Convocation, dinner and departmental event shoots.", Category: "Photography", Price: 25000, PriceType: "NEGOTIABLE", Rating: 4.6, FreelancerName: "Kunle Ade", Skills: []string{"Photography", "Lightroom"}},
		{ID: "svc-5", Title: "Flutter app prototype", Description: "Clickable mobile prototype with Firebase backend.", Category: "Mobile Development", Price: 80000, PriceType: "FIXED", Rating: 4.9, FreelancerName: "Ada Okafor", Skills: []string{"Flutter", "Firebase"}},
		{ID: "svc-6", Title: "Project report proofreading", Description: "Final year project proofreading and formatting.", Category: "Content Writing", Price: 5000, PriceType: "FIXED", Rating: 4.5, FreelancerName: "Ngozi Umeh", Skills: []string{"Editing"}},
		{ID: "svc-7", Title: "Data cleaning in Python", Description: "Pandas notebooks for survey and lab data analysis.", Category: "Data Analysis", Price: 20000, PriceType: "NEGOTIABLE", Rating: 4.7, FreelancerName: "Ibrahim Musa", Skills: []string{"Python", "Pandas"}},
		{ID: "svc-8", Title: "Portfolio website", Description: "Personal portfolio site with blog and contact form.", Category: "Web Development", Price: 30000, PriceType: "FIXED", Rating: 4.8, FreelancerName: "Tunde Bello", Skills: []string{"HTML", "CSS"}},
	}
}

func demoJobs() []remote.Job {
	return []remote.Job{
		{ID: "job-1", Title: "Redesign departmental website", Description: "Refresh the CSC department site.", Category: "Web Development", Budget: 60000, Deadline: "2026-12-01", Skills: []string{"WordPress"}},
		{ID: "job-2", Title: "Flyer for SUG week", Description: "A3 flyer and Instagram story set.", Category: "Graphic Design", Budget: 8000, Deadline: "2026-11-10", Skills: []string{"Photoshop"}},
		{ID: "job-3", Title: "Statistics tutor needed", Description: "STA201 weekly tutoring for a study group.", Category: "Tutoring", Budget: 12000, Skills: []string{"Statistics"}},
		{ID: "job-4", Title: "Translate abstract to French", Description: "300-word thesis abstract.", Category: "Translation", Budget: 4000, Deadline: "2026-10-30"},
	}
}
